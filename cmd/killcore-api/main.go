// Killcore-api serves the tournament lineage over a read-only REST API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/killcore/killcore/internal/api"
	"github.com/killcore/killcore/internal/audit"
	"github.com/killcore/killcore/internal/bootstrap"
	"github.com/killcore/killcore/internal/config"
	"github.com/killcore/killcore/internal/metrics"
)

const (
	metricsInterval = 15 * time.Second
	limiterIdle     = 10 * time.Minute
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	log.Info().Str("version", config.GetVersion()).Msg("Starting Killcore API Server")

	// Create context that listens for interrupt signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadSecretsFromVault(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to load secrets from Vault")
	}

	storage, err := bootstrap.OpenStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := storage.Store.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close store")
		}
	}()

	kingCache, redisCloser := bootstrap.OpenCache(ctx, cfg.Redis)
	defer func() { _ = bootstrap.CloseAll(redisCloser) }()

	var ledger *audit.Ledger
	if storage.Pool != nil {
		ledger = audit.NewLedger(storage.Pool)
	}

	server, err := api.NewServer(api.Config{
		Host:           cfg.API.Host,
		Port:           cfg.API.Port,
		Store:          storage.Store,
		Cache:          kingCache,
		Ledger:         ledger,
		AllowedOrigins: cfg.API.AllowedOrigins,
		RateLimit:      cfg.API.RateLimit,
		RateBurst:      cfg.API.RateBurst,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create API server")
	}

	if cfg.Monitoring.EnableMetrics {
		ms := metrics.NewServer(cfg.Monitoring.PrometheusPort, log.Logger)
		if err := ms.Start(); err != nil {
			log.Warn().Err(err).Msg("Metrics server not started")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ms.Shutdown(shutdownCtx)
		}()
	}

	updater := metrics.NewUpdater(storage.Store, metricsInterval)
	if storage.Pool != nil {
		updater = updater.WithPool(storage.Pool)
	}
	go updater.Start(ctx)
	defer updater.Stop()

	go func() {
		ticker := time.NewTicker(limiterIdle)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := server.CleanupLimiter(limiterIdle); n > 0 {
					log.Debug().Int("removed", n).Msg("Pruned idle rate limiter entries")
				}
			}
		}
	}()

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// Wait for interrupt signal or server error
	select {
	case err := <-serverErrors:
		if err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	case <-ctx.Done():
		log.Info().Msg("Received shutdown signal")
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to stop server gracefully")
		return
	}

	log.Info().Msg("Server stopped successfully")
}
