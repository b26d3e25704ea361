// Package config loads lumen's configuration from environment variables.
//
// Server settings:
//
//	LUMEN_HOST="0.0.0.0"
//	LUMEN_PORT="8080"
//	LUMEN_HEALTH_PORT="9090"
//	LUMEN_MAX_UPLOAD_BYTES="20971520"
//
// Persistence and storage:
//
//	LUMEN_DATABASE_URL="postgres://localhost/lumen?sslmode=disable"
//	LUMEN_S3_ENDPOINT="https://<ref>.supabase.co/storage/v1/s3"
//	LUMEN_STORAGE_PUBLIC_URL="https://<ref>.supabase.co/storage/v1/object/public"
//	LUMEN_REDIS_URL="redis://localhost:6379/0"
//
// Billing and inference:
//
//	STRIPE_SECRET_KEY, STRIPE_WEBHOOK_SECRET, STRIPE_PRICE_BASIC, STRIPE_PRICE_PRO
//	LUMEN_PUBLIC_URL="https://app.example.com"
//	REPLICATE_API_TOKEN
//
// Binaries import github.com/joho/godotenv/autoload so a local .env file is
// honored during development.
package config
