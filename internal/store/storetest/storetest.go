// Package storetest holds the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/killcore/killcore/internal/evolution"
	"github.com/killcore/killcore/internal/store"
)

// Module returns a scored module suitable for persistence tests.
func Module(id string, score float64) *evolution.Module {
	return &evolution.Module{
		ID:           id,
		Symbol:       "OPUSDT",
		StrategyType: evolution.StrategyRangeReversal,
		Parameters:   evolution.Parameters{"ma_fast": 12, "sl_pct": 1.25},
		Bloodline:    []string{"fallback_X1"},
		Evaluated:    true,
		Score:        score,
		Status:       evolution.StatusScored,
		Type:         evolution.ClassStable,
		CreatedAt:    time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
		UpdatedAt:    time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
	}
}

// Run exercises a fresh store returned by open.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("empty store", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		archive, err := s.LoadArchive(ctx)
		require.NoError(t, err)
		assert.Empty(t, archive)

		kings, err := s.LoadKingPool(ctx)
		require.NoError(t, err)
		assert.Empty(t, kings)

		godline, err := s.LoadGodline(ctx)
		require.NoError(t, err)
		assert.Empty(t, godline)

		_, err = s.LoadResult(ctx)
		assert.ErrorIs(t, err, store.ErrNotFound)

		_, err = s.GetModule(ctx, "missing-1")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("archive replaced", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.SaveArchive(ctx, []*evolution.Module{Module("a-1", 10), Module("a-2", 20)}))
		require.NoError(t, s.SaveArchive(ctx, []*evolution.Module{Module("b-1", 30)}))

		archive, err := s.LoadArchive(ctx)
		require.NoError(t, err)
		require.Len(t, archive, 1)
		assert.Equal(t, "b-1", archive[0].ID)
		assert.Equal(t, 30.0, archive[0].Score)
		assert.Equal(t, evolution.SchemaVersion, archive[0].SchemaVersion)
		assert.Equal(t, []string{"fallback_X1"}, archive[0].Bloodline)
	})

	t.Run("king pool keeps order", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		kings := []*evolution.Module{Module("k-1", 90), Module("k-2", 80), Module("k-3", 70)}
		require.NoError(t, s.SaveKingPool(ctx, kings))

		got, err := s.LoadKingPool(ctx)
		require.NoError(t, err)
		require.Len(t, got, 3)
		for i := range kings {
			assert.Equal(t, kings[i].ID, got[i].ID)
		}
	})

	t.Run("godline round trip", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		entries := []evolution.GodlineEntry{
			{ID: "a-12", Fallen: true, KingRounds: 1, CrownedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
			{ID: "b-7", IsDivine: true, SlainGodID: "a-12", Bloodline: []string{"p"}, CrownedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)},
		}
		require.NoError(t, s.SaveGodline(ctx, entries))

		got, err := s.LoadGodline(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "a-12", got[0].ID)
		assert.True(t, got[0].Fallen)
		assert.Equal(t, "b-7", got[1].ID)
		assert.Equal(t, "a-12", got[1].SlainGodID)
		assert.True(t, got[1].CrownedAt.Equal(entries[1].CrownedAt))
	})

	t.Run("result", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		result := &store.Result{
			RoundID:   "round-1",
			CreatedAt: time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC),
			Modules:   []*evolution.Module{Module("r-1", 50), Module("r-2", 40)},
		}
		require.NoError(t, s.SaveResult(ctx, result))

		got, err := s.LoadResult(ctx)
		require.NoError(t, err)
		assert.Equal(t, "round-1", got.RoundID)
		require.Len(t, got.Modules, 2)
		assert.Equal(t, "r-1", got.Modules[0].ID)
	})

	t.Run("module repository", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		for i := 3; i >= 1; i-- {
			require.NoError(t, s.PutModule(ctx, Module(fmt.Sprintf("m-%d", i), float64(i))))
		}

		m, err := s.GetModule(ctx, "m-2")
		require.NoError(t, err)
		assert.Equal(t, 2.0, m.Score)
		assert.Equal(t, 12.0, m.Parameters["ma_fast"])

		updated := Module("m-2", 99)
		require.NoError(t, s.PutModule(ctx, updated))
		m, err = s.GetModule(ctx, "m-2")
		require.NoError(t, err)
		assert.Equal(t, 99.0, m.Score)

		all, err := s.ListModules(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"m-1", "m-2", "m-3"}, []string{all[0].ID, all[1].ID, all[2].ID})
	})

	t.Run("prune modules", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		removed, err := s.PruneModules(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, removed)

		for i := 1; i <= 5; i++ {
			require.NoError(t, s.PutModule(ctx, Module(fmt.Sprintf("p-%d", i), float64(i))))
		}

		removed, err = s.PruneModules(ctx, []string{"p-2", "p-4", "absent-1"})
		require.NoError(t, err)
		assert.Equal(t, 3, removed)

		all, err := s.ListModules(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, []string{"p-2", "p-4"}, []string{all[0].ID, all[1].ID})

		_, err = s.GetModule(ctx, "p-1")
		assert.ErrorIs(t, err, store.ErrNotFound)

		removed, err = s.PruneModules(ctx, []string{"p-2", "p-4"})
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("newer schema rejected", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		future := Module("future-1", 1)
		future.SchemaVersion = "9.0.0"
		require.NoError(t, s.SaveArchive(ctx, []*evolution.Module{future}))

		_, err := s.LoadArchive(ctx)
		assert.ErrorIs(t, err, store.ErrIncompatibleSchema)
	})
}
