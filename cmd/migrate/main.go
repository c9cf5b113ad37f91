package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"paywall/internal/logger"
	"paywall/internal/migrations"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// migrateConfig is the subset of the service configuration the migrator needs.
type migrateConfig struct {
	Environment        string `envconfig:"ENV" default:"development"`
	LogLevel           string `envconfig:"LOG_LEVEL" default:"info"`
	DBConnectionString string `envconfig:"DB_CONNECTION_STRING" required:"true"`
}

func main() {
	timeout := flag.Duration("timeout", 2*time.Minute, "Maximum time to spend applying migrations")
	flag.Parse()

	_ = godotenv.Load()

	var cfg migrateConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log := logger.New("development", "info")
		log.Fatal().Err(err).Msg("Error loading config")
	}
	log := logger.New(cfg.Environment, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	if err := migrations.Up(ctx, cfg.DBConnectionString); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
	log.Info().Msg("Database schema is up to date")
}
