package badgerstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/killcore/killcore/internal/evolution"
	"github.com/killcore/killcore/internal/store"
	"github.com/killcore/killcore/internal/store/storetest"
)

func openInMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openInMemory(t)
	})
}

func TestStore_OnDiskReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(Options{Path: dir})
	require.NoError(t, err)
	require.NoError(t, s.SaveKingPool(ctx, []*evolution.Module{storetest.Module("k-1", 77)}))
	require.NoError(t, s.Close())

	s, err = Open(Options{Path: dir})
	require.NoError(t, err)
	defer s.Close()

	kings, err := s.LoadKingPool(ctx)
	require.NoError(t, err)
	require.Len(t, kings, 1)
	assert.Equal(t, 77.0, kings[0].Score)
}

func TestStore_PutModules(t *testing.T) {
	s := openInMemory(t)
	ctx := context.Background()

	var modules []*evolution.Module
	for i := 0; i < 250; i++ {
		modules = append(modules, storetest.Module(fmt.Sprintf("gen-%03d", i), float64(i)))
	}
	require.NoError(t, s.PutModules(ctx, modules))

	all, err := s.ListModules(ctx)
	require.NoError(t, err)
	require.Len(t, all, 250)
	assert.Equal(t, "gen-000", all[0].ID)
	assert.Equal(t, "gen-249", all[249].ID)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}
