// Package observability provides structured logging, Prometheus metrics,
// health probes, OpenTelemetry tracing and graceful shutdown for lumen.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithComponent("webhook").WithField("event_type", evt.Type).Info("event applied")
//
// Request handlers retrieve the request-scoped logger with FromContext, which
// carries the request ID and the authenticated user ID.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.GenerationsTotal.WithLabelValues(model, "success").Inc()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(dbSource, redisClient, version)
//	observability.RegisterHealthRoutes(healthMux, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers)
//
//	ctx, span := observability.Tracer().Start(ctx, "objects.Put")
//	defer span.End()
package observability
