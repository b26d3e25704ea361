package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/lumen/pkg/api"
	"github.com/platinummonkey/lumen/pkg/auth"
	"github.com/platinummonkey/lumen/pkg/billing"
	"github.com/platinummonkey/lumen/pkg/config"
	"github.com/platinummonkey/lumen/pkg/gateway"
	"github.com/platinummonkey/lumen/pkg/inference"
	"github.com/platinummonkey/lumen/pkg/ledger"
	"github.com/platinummonkey/lumen/pkg/middleware"
	"github.com/platinummonkey/lumen/pkg/observability"
	"github.com/platinummonkey/lumen/pkg/projects"
	"github.com/platinummonkey/lumen/pkg/storage/objects"
	"github.com/platinummonkey/lumen/pkg/storage/postgres"
	"github.com/platinummonkey/lumen/pkg/webhook"
)

const version = "1.0.0"

// dbStatsSchedule samples connection pool statistics
const dbStatsSchedule = "@every 15s"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting lumen")

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Persistence opens lazily; without a URL every store reports
	// postgres.ErrNotConfigured at request time.
	source := postgres.NewSource(cfg.Database)
	if cfg.Features.AutoMigrate && cfg.Database.URL != "" {
		db, err := source.DB()
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		applied, err := postgres.RunMigrations(ctx, db)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Infof("Applied %d migrations", len(applied))
	}

	var redisClient *redis.Client
	deduper := webhook.Deduper(webhook.NoopDeduper{})
	if cfg.Redis.URL != "" {
		redisClient, err = webhook.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		deduper = webhook.NewRedisDeduper(redisClient, cfg.Redis.EventTTL)
		logger.Info("Webhook de-duplication enabled")
	}

	var objectStore objects.Store
	s3Store, err := objects.NewS3Store(ctx, cfg.Objects, metrics)
	switch {
	case errors.Is(err, objects.ErrNotConfigured):
		logger.Warn("Object storage is not configured, generation is disabled")
	case err != nil:
		return fmt.Errorf("failed to create object store: %w", err)
	default:
		objectStore = s3Store
	}

	subscriptions := ledger.NewPostgresStore(source)
	projectStore := projects.NewPostgresStore(source)

	plans, err := billing.LoadPlans(cfg.Billing.PriceBasic, cfg.Billing.PricePro, cfg.Billing.PlansFile)
	if err != nil {
		return err
	}

	predictor := inference.NewReplicateClient(inference.ReplicateConfig{
		APIToken: cfg.Inference.APIToken,
		Timeout:  cfg.Inference.Timeout,
	})
	generator := gateway.New(gateway.Config{
		InputBucket:  cfg.Objects.InputBucket,
		OutputBucket: cfg.Objects.OutputBucket,
		TrackUsage:   cfg.Features.TrackUsage,
	}, predictor, objectStore, projectStore,
		gateway.WithUsageRecorder(subscriptions),
		gateway.WithMetrics(metrics),
		gateway.WithLogger(logger),
	)

	bridge := billing.NewBridge(
		billing.NewStripeProvider(cfg.Billing.SecretKey, nil),
		subscriptions, plans, cfg.Billing.PublicURL, metrics, logger,
	)

	reconciler := webhook.NewReconciler(subscriptions, plans, cfg.Billing.WebhookSecret,
		webhook.WithDeduper(deduper),
		webhook.WithMetrics(metrics),
		webhook.WithLogger(logger),
	)

	verifier, err := auth.NewVerifier(ctx, cfg.Auth.JWTSecret, cfg.Auth.SupabaseURL, cfg.Auth.Audience)
	if err != nil {
		return fmt.Errorf("failed to create session verifier: %w", err)
	}

	var generateLimiter middleware.Limiter
	if cfg.Features.GenerateRateLimit > 0 {
		limitConfig := middleware.GenerationRateLimitConfig(cfg.Features.GenerateRateLimit)
		if redisClient != nil {
			generateLimiter = middleware.NewDistributedRateLimiter(redisClient, limitConfig, "")
		} else {
			local := middleware.NewRateLimiter(limitConfig)
			local.StartCleanup(ctx)
			generateLimiter = local
		}
	}

	server := api.NewServer(api.Dependencies{
		Authenticator:   middleware.NewAuthenticator(verifier, cfg.Auth.CookieName, logger),
		Webhook:         reconciler,
		Generator:       generator,
		Bridge:          bridge,
		Subscriptions:   subscriptions,
		Plans:           plans,
		Projects:        projectStore,
		Deleter:         projects.NewDeleter(projectStore, objectStore, cfg.Objects.InputBucket, cfg.Objects.OutputBucket, logger),
		GenerateLimiter: generateLimiter,
		MaxUploadBytes:  cfg.Server.MaxUploadBytes,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		Metrics:         metrics,
		Logger:          logger,
	})

	apiServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var healthDB observability.DatabaseSource
	if cfg.Database.URL != "" {
		healthDB = source
	}
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(healthDB, redisClient, version))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.HealthPort),
		Handler:      healthMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	scheduler := cron.New()
	if metrics != nil {
		if _, err := scheduler.AddFunc(dbStatsSchedule, func() {
			metrics.RecordDBStats(source.Stats())
		}); err != nil {
			return fmt.Errorf("failed to schedule database stats: %w", err)
		}
	}
	scheduler.Start()

	shutdownManager := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdownManager.RegisterShutdownFunc("scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdownManager.RegisterShutdownFunc("database", func(ctx context.Context) error {
		return source.Close()
	})
	if redisClient != nil {
		shutdownManager.RegisterShutdownFunc("redis", func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	shutdownManager.RegisterShutdownFunc("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("API server listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		return shutdownManager.Shutdown(context.Background())
	})

	return g.Wait()
}
