package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paywall/internal/api/v1/router"
	"paywall/internal/config"
	"paywall/internal/logger"

	"github.com/joho/godotenv"
)

// @title Paywall API
// @version 1.0
// @description Subscription plans, checkout and entitlements
// @host localhost:8080
// @BasePath /v1
// @Schemes http https

func main() {
	// 1. Load configuration
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log := logger.New("development", "info")
		log.Fatal().Err(err).Msg("Error loading config")
	}
	log := logger.New(cfg.Environment, cfg.LogLevel)
	if envErr != nil {
		log.Debug().Msg("No .env file found")
	}

	// 2. Build router and its dependencies
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	r, closeDeps, err := router.New(startCtx, cfg, log)
	cancelStart()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build router")
	}
	defer closeDeps()

	// 3. Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.GatewayTimeout() + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 4. Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Listen failed")
		}
	}()

	// 5. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutdown signal received, exiting...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server shut down gracefully")
}
