// Package testhelpers starts disposable PostgreSQL instances for integration tests.
package testhelpers

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/killcore/killcore/internal/db"
)

// PostgresContainer is a running PostgreSQL container and a pool connected to it.
type PostgresContainer struct {
	Container     *postgres.PostgresContainer
	ConnectionStr string
	DB            *db.DB
	t             *testing.T
}

// SetupTestDatabase starts a PostgreSQL container that is terminated when the
// test ends. Skipped in -short mode.
func SetupTestDatabase(t *testing.T) *PostgresContainer {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("killcore_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("testpassword"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to get connection string: %v", err)
	}

	database, err := db.New(ctx, connStr, db.PoolConfig{MaxConns: 5, MinConns: 1})
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to connect to PostgreSQL container: %v", err)
	}

	tc := &PostgresContainer{
		Container:     container,
		ConnectionStr: connStr,
		DB:            database,
		t:             t,
	}

	t.Cleanup(func() {
		tc.DB.Close()
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	return tc
}

// ApplyMigrations runs the SQL migrations in dir through the Migrator
func (tc *PostgresContainer) ApplyMigrations(dir string) error {
	tc.t.Helper()

	migrator, conn, err := db.OpenMigrator(context.Background(), tc.ConnectionStr, dir)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = migrator.Migrate(context.Background())
	return err
}
