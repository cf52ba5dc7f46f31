package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/killcore/killcore/internal/audit"
	"github.com/killcore/killcore/internal/db"
	"github.com/killcore/killcore/internal/db/testhelpers"
	"github.com/killcore/killcore/internal/events"
	"github.com/killcore/killcore/internal/store"
	"github.com/killcore/killcore/internal/store/storetest"
)

func TestStoreWithTestcontainers(t *testing.T) {
	tc := testhelpers.SetupTestDatabase(t)
	require.NoError(t, tc.ApplyMigrations("../../migrations"))
	require.NoError(t, tc.DB.Health(context.Background()))

	storetest.Run(t, func(t *testing.T) store.Store {
		_, err := tc.DB.Pool().Exec(context.Background(),
			`TRUNCATE tournament_state, round_results, modules`)
		require.NoError(t, err)
		return db.NewStore(tc.DB.Pool())
	})
}

func TestMigrationsIdempotentWithTestcontainers(t *testing.T) {
	tc := testhelpers.SetupTestDatabase(t)
	require.NoError(t, tc.ApplyMigrations("../../migrations"))

	migrator, conn, err := db.OpenMigrator(context.Background(), tc.ConnectionStr, "../../migrations")
	require.NoError(t, err)
	defer conn.Close()

	applied, err := migrator.Migrate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, applied)

	statuses, err := migrator.Status(context.Background())
	require.NoError(t, err)
	for _, s := range statuses {
		assert.True(t, s.Applied, s.Filename)
	}
}

func TestLedgerWithTestcontainers(t *testing.T) {
	tc := testhelpers.SetupTestDatabase(t)
	require.NoError(t, tc.ApplyMigrations("../../migrations"))
	ctx := context.Background()

	ledger := audit.NewLedger(tc.DB.Pool())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, ledger.Publish(ctx, events.Event{Type: events.TypeKingCrowned, RoundID: "r1", ModuleID: "k1", Timestamp: at}))
	require.NoError(t, ledger.Publish(ctx, events.Event{Type: events.TypeGodslayer, RoundID: "r2", ModuleID: "k2", SlainGodID: "k1", Timestamp: at.Add(time.Hour)}))

	all, err := ledger.Query(ctx, audit.Filters{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "r2", all[0].RoundID)

	slain, err := ledger.Query(ctx, audit.Filters{Type: events.TypeGodslayer})
	require.NoError(t, err)
	require.Len(t, slain, 1)
	assert.Equal(t, "k1", slain[0].SlainGodID)
	assert.Equal(t, audit.SeverityWarning, slain[0].Severity)
}
