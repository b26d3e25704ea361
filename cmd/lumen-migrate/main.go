package main

import (
	"context"
	"flag"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/lumen/pkg/storage/postgres"
)

// Config holds the migration tool configuration
type Config struct {
	DatabaseURL string
	Timeout     time.Duration
	LogLevel    string
	List        bool
}

// lumen-migrate applies pending schema migrations and exits
func main() {
	config := parseFlags()
	logger := setupLogger(config.LogLevel)

	if config.List {
		for _, m := range postgres.Migrations() {
			logger.WithField("version", m.Version).Info(m.Description)
		}
		return
	}

	if config.DatabaseURL == "" {
		logger.Fatal("Database URL is required (--db or LUMEN_DATABASE_URL)")
	}

	source := postgres.NewSource(postgres.ConnectionConfig{
		URL:      config.DatabaseURL,
		MaxConns: 2,
		MinConns: 1,
		Timeout:  config.Timeout,
	})
	defer source.Close()

	db, err := source.DB()
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()

	applied, err := postgres.RunMigrations(ctx, db)
	for _, version := range applied {
		logger.WithField("version", version).Info("Applied migration")
	}
	if err != nil {
		logger.Fatalf("Migration failed: %v", err)
	}

	if len(applied) == 0 {
		logger.Info("Schema is up to date")
		return
	}
	logger.Infof("Applied %d migrations", len(applied))
}

func parseFlags() *Config {
	config := &Config{}

	flag.StringVar(&config.DatabaseURL, "db", os.Getenv("LUMEN_DATABASE_URL"), "Database connection string")
	flag.DurationVar(&config.Timeout, "timeout", time.Minute, "Timeout for the whole migration run")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.BoolVar(&config.List, "list", false, "List known migrations and exit")

	flag.Parse()

	return config
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}
