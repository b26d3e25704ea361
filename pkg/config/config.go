package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/lumen/pkg/observability"
	"github.com/platinummonkey/lumen/pkg/storage/objects"
	"github.com/platinummonkey/lumen/pkg/storage/postgres"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      postgres.ConnectionConfig
	Redis         RedisConfig
	Objects       objects.Config
	Billing       BillingConfig
	Inference     InferenceConfig
	Auth          AuthConfig
	Features      FeatureConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
	AllowedOrigins  []string

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// RedisConfig holds the optional Redis connection used for webhook de-duplication
type RedisConfig struct {
	URL      string
	EventTTL time.Duration
}

// BillingConfig holds Stripe settings. Secrets may be empty; the bridge and
// the reconciler report them as missing at request time.
type BillingConfig struct {
	SecretKey     string
	WebhookSecret string
	PriceBasic    string
	PricePro      string
	PlansFile     string
	PublicURL     string
}

// InferenceConfig holds Replicate settings
type InferenceConfig struct {
	APIToken string
	Timeout  time.Duration
}

// AuthConfig selects how Supabase access tokens are verified: with the
// project's JWT secret (HS256) when set, otherwise against the JWKS of SupabaseURL.
type AuthConfig struct {
	SupabaseURL string
	JWTSecret   string
	Audience    string
	CookieName  string
}

// FeatureConfig holds behavior switches
type FeatureConfig struct {
	TrackUsage        bool
	AutoMigrate       bool
	// GenerateRateLimit is the per-user generations per minute; 0 disables it
	GenerateRateLimit int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Objects:       loadObjectsConfig(),
		Billing:       loadBillingConfig(),
		Inference:     loadInferenceConfig(),
		Auth:          loadAuthConfig(),
		Features:      loadFeatureConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("LUMEN_HOST", "0.0.0.0"),
		Port:            getEnv("LUMEN_PORT", "8080"),
		ReadTimeout:     getEnvDuration("LUMEN_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("LUMEN_WRITE_TIMEOUT", 120*time.Second),
		IdleTimeout:     getEnvDuration("LUMEN_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("LUMEN_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxUploadBytes:  getEnvInt64("LUMEN_MAX_UPLOAD_BYTES", 20<<20),
		AllowedOrigins:  getEnvList("LUMEN_ALLOWED_ORIGINS", nil),
		HealthPort:      getEnv("LUMEN_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() postgres.ConnectionConfig {
	return postgres.ConnectionConfig{
		URL:         getEnv("LUMEN_DATABASE_URL", ""),
		MaxConns:    getEnvInt("LUMEN_DATABASE_MAX_CONNS", 20),
		MinConns:    getEnvInt("LUMEN_DATABASE_MIN_CONNS", 2),
		Timeout:     getEnvDuration("LUMEN_DATABASE_TIMEOUT", 5*time.Second),
		MaxLifetime: getEnvDuration("LUMEN_DATABASE_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime: getEnvDuration("LUMEN_DATABASE_MAX_IDLE_TIME", 5*time.Minute),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:      getEnv("LUMEN_REDIS_URL", ""),
		EventTTL: getEnvDuration("LUMEN_WEBHOOK_DEDUP_TTL", 72*time.Hour),
	}
}

func loadObjectsConfig() objects.Config {
	cfg := objects.DefaultConfig()
	cfg.Endpoint = getEnv("LUMEN_S3_ENDPOINT", cfg.Endpoint)
	cfg.Region = getEnv("LUMEN_S3_REGION", cfg.Region)
	cfg.AccessKey = getEnv("LUMEN_S3_ACCESS_KEY", "")
	cfg.SecretKey = getEnv("LUMEN_S3_SECRET_KEY", "")
	cfg.UsePathStyle = getEnvBool("LUMEN_S3_USE_PATH_STYLE", cfg.UsePathStyle)
	cfg.PublicURL = strings.TrimRight(getEnv("LUMEN_STORAGE_PUBLIC_URL", ""), "/")
	cfg.InputBucket = getEnv("LUMEN_INPUT_BUCKET", cfg.InputBucket)
	cfg.OutputBucket = getEnv("LUMEN_OUTPUT_BUCKET", cfg.OutputBucket)
	return cfg
}

func loadBillingConfig() BillingConfig {
	return BillingConfig{
		SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		PriceBasic:    getEnv("STRIPE_PRICE_BASIC", ""),
		PricePro:      getEnv("STRIPE_PRICE_PRO", ""),
		PlansFile:     getEnv("LUMEN_PLANS_FILE", ""),
		PublicURL:     strings.TrimRight(getEnv("LUMEN_PUBLIC_URL", ""), "/"),
	}
}

func loadInferenceConfig() InferenceConfig {
	return InferenceConfig{
		APIToken: getEnv("REPLICATE_API_TOKEN", ""),
		Timeout:  getEnvDuration("LUMEN_GENERATION_TIMEOUT", 0),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		SupabaseURL: strings.TrimRight(getEnv("SUPABASE_URL", ""), "/"),
		JWTSecret:   getEnv("SUPABASE_JWT_SECRET", ""),
		Audience:    getEnv("LUMEN_AUTH_AUDIENCE", "authenticated"),
		CookieName:  getEnv("LUMEN_AUTH_COOKIE", "sb-access-token"),
	}
}

func loadFeatureConfig() FeatureConfig {
	return FeatureConfig{
		TrackUsage:        getEnvBool("LUMEN_TRACK_USAGE", false),
		AutoMigrate:       getEnvBool("LUMEN_AUTO_MIGRATE", false),
		GenerateRateLimit: getEnvInt("LUMEN_GENERATE_RATE_LIMIT", 0),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("LUMEN_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("LUMEN_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("LUMEN_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("LUMEN_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("LUMEN_OTEL_SERVICE_NAME", "lumen"),
		OTelServiceVersion: getEnv("LUMEN_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("LUMEN_OTEL_INSECURE", true),
	}
}

// Validate checks listener and observability settings. Business secrets are
// deliberately not required here; each is reported when first needed.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive")
	}

	if c.Features.GenerateRateLimit < 0 {
		return fmt.Errorf("generate rate limit must not be negative")
	}

	if c.Objects.InputBucket == "" || c.Objects.OutputBucket == "" {
		return fmt.Errorf("input and output bucket names are required")
	}

	if c.Auth.JWTSecret == "" && c.Auth.SupabaseURL == "" {
		return fmt.Errorf("either SUPABASE_JWT_SECRET or SUPABASE_URL is required to verify sessions")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated environment variable
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
