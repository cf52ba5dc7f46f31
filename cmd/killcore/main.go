// Killcore runs tournament rounds and prints the king's briefing.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/killcore/killcore/internal/bootstrap"
	"github.com/killcore/killcore/internal/config"
	"github.com/killcore/killcore/internal/evolution"
	"github.com/killcore/killcore/internal/metrics"
	"github.com/killcore/killcore/internal/report"
	"github.com/killcore/killcore/internal/tournament"
)

// Exit codes
const (
	exitOK           = 0
	exitError        = 1
	exitPartialWrite = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("killcore", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	rounds := fs.Int("rounds", 1, "Number of rounds to run (0 runs until interrupted)")
	interval := fs.Duration("interval", 0, "Pause between rounds")
	seed := fs.Int64("seed", 0, "Random seed (overrides config, 0 keeps config)")
	verbose := fs.Bool("verbose", false, "Enable debug logging")
	showReport := fs.Bool("report", true, "Print the round report after the briefing")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitError
	}
	level := cfg.App.LogLevel
	if *verbose {
		level = "debug"
	}
	config.InitLogger(level, cfg.App.LogFormat)

	log.Info().
		Str("version", config.GetVersion()).
		Str("environment", cfg.App.Environment).
		Str("storage", cfg.Storage.Backend).
		Msg("Starting Killcore")

	if err := config.LoadSecretsFromVault(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("Failed to load secrets from Vault")
		return exitError
	}

	tc, err := bootstrap.TournamentConfig(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Invalid tournament configuration")
		return exitError
	}
	if *seed != 0 {
		tc.Seed = *seed
	}

	storage, err := bootstrap.OpenStore(ctx, cfg.Storage)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open store")
		return exitError
	}
	defer func() {
		if err := storage.Store.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close store")
		}
	}()

	provider, err := bootstrap.NewProvider(cfg.Symbols)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create symbol provider")
		return exitError
	}

	publisher, natsCloser, err := bootstrap.OpenPublisher(cfg.NATS)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect event publisher")
		return exitError
	}
	publisher, _ = bootstrap.WithLedger(publisher, storage)
	kingCache, redisCloser := bootstrap.OpenCache(ctx, cfg.Redis)
	defer func() {
		if err := bootstrap.CloseAll(natsCloser, redisCloser); err != nil {
			log.Warn().Err(err).Msg("Failed to close connections")
		}
	}()

	if cfg.Monitoring.EnableMetrics {
		ms := metrics.NewServer(cfg.Monitoring.PrometheusPort, log.Logger)
		if err := ms.Start(); err != nil {
			log.Warn().Err(err).Msg("Metrics server not started")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = ms.Shutdown(shutdownCtx)
			}()
		}
	}

	runner, err := tournament.NewRunner(tc, storage.Store, provider,
		config.NewLogger("tournament"),
		tournament.WithPublisher(publisher),
		tournament.WithCache(kingCache),
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create tournament runner")
		return exitError
	}

	result, err := runner.Run(ctx, *rounds, *interval)
	code := exitCode(err)
	switch {
	case errors.Is(err, context.Canceled) && result != nil:
		log.Info().Msg("Interrupted, printing last completed round")
		code = exitOK
	case code == exitError:
		log.Error().Err(err).Msg("Tournament failed")
		return code
	case code == exitPartialWrite:
		log.Warn().Err(err).Msg("Round completed with partial writes")
	}
	if result == nil {
		return code
	}

	if err := printBriefing(stdout, result, *showReport); err != nil {
		log.Error().Err(err).Msg("Failed to render briefing")
		return exitError
	}
	return code
}

// exitCode maps a run error to a process exit code. Partial writes still
// produce a briefing but are reported with a distinct code.
func exitCode(err error) int {
	var partial *evolution.PartialWriteError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &partial):
		return exitPartialWrite
	default:
		return exitError
	}
}

// printBriefing renders the king and, optionally, the round report.
func printBriefing(w io.Writer, result *tournament.RoundResult, withReport bool) error {
	if err := report.RenderKing(w, result.King); err != nil {
		return err
	}
	if !withReport {
		return nil
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	return report.RenderReport(w, result.Report)
}
