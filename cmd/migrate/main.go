// Migrate applies the SQL migrations that back the Postgres store and the
// lineage ledger.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/killcore/killcore/internal/config"
	"github.com/killcore/killcore/internal/db"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	command := fs.String("command", "migrate", "Command to run: migrate or status")
	configPath := fs.String("config", "", "Path to config file")
	dbURL := fs.String("db", "", "Database connection URL (overrides config)")
	migrationsDir := fs.String("migrations", "migrations", "Path to migrations directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *command != "migrate" && *command != "status" {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\nUsage: migrate -command=[migrate|status]\n", *command)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	url := *dbURL
	if url == "" {
		url = cfg.Storage.DatabaseURL
	}
	if url == "" {
		log.Error().Msg("No database URL: set storage.database_url, KILLCORE_STORAGE_DATABASE_URL or -db")
		return 1
	}

	migrator, conn, err := db.OpenMigrator(ctx, url, *migrationsDir)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to database")
		return 1
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database connection")
		}
	}()

	if *command == "status" {
		return printStatus(ctx, migrator, stdout)
	}

	applied, err := migrator.Migrate(ctx)
	if err != nil {
		log.Error().Err(err).Int("applied", applied).Msg("Migration failed")
		return 1
	}
	version, err := migrator.CurrentVersion(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read schema version")
		return 1
	}
	fmt.Fprintf(stdout, "Applied %d migration(s). Current version: %d\n", applied, version)
	return 0
}

func printStatus(ctx context.Context, migrator *db.Migrator, w io.Writer) int {
	statuses, err := migrator.Status(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Status check failed")
		return 1
	}
	fmt.Fprintln(w, "VERSION | STATUS  | DESCRIPTION")
	for _, s := range statuses {
		status := "pending"
		if s.Applied {
			status = "applied"
		}
		fmt.Fprintf(w, "%-7d | %-7s | %s\n", s.Version, status, s.Description)
	}
	return 0
}
