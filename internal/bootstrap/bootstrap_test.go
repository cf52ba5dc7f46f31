package bootstrap

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/killcore/killcore/internal/cache"
	"github.com/killcore/killcore/internal/config"
	"github.com/killcore/killcore/internal/events"
	"github.com/killcore/killcore/internal/evolution"
	"github.com/killcore/killcore/internal/store"
	"github.com/killcore/killcore/internal/symbols"
)

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     func(dir string) config.StorageConfig
		wantErr bool
	}{
		{
			name: "file",
			cfg:  func(dir string) config.StorageConfig { return config.StorageConfig{Backend: "file", Dir: dir} },
		},
		{
			name: "default is file",
			cfg:  func(dir string) config.StorageConfig { return config.StorageConfig{Dir: dir} },
		},
		{
			name: "badger",
			cfg: func(dir string) config.StorageConfig {
				return config.StorageConfig{Backend: "badger", BadgerPath: filepath.Join(dir, "badger")}
			},
		},
		{
			name: "memory",
			cfg:  func(string) config.StorageConfig { return config.StorageConfig{Backend: "memory"} },
		},
		{
			name:    "unknown",
			cfg:     func(string) config.StorageConfig { return config.StorageConfig{Backend: "sqlite"} },
			wantErr: true,
		},
		{
			name:    "postgres without url",
			cfg:     func(string) config.StorageConfig { return config.StorageConfig{Backend: "postgres"} },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, err := OpenStore(ctx, tt.cfg(t.TempDir()))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer func() { _ = storage.Store.Close() }()
			assert.Nil(t, storage.Pool)

			// A fresh store reads back as empty.
			kings, err := storage.Store.LoadKingPool(ctx)
			require.NoError(t, err)
			assert.Empty(t, kings)
			_, err = storage.Store.LoadResult(ctx)
			assert.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(config.SymbolsConfig{Source: "fixed", Fixed: []string{"OPUSDT"}})
	require.NoError(t, err)
	plan, err := p.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"OPUSDT"}, plan.Symbols())

	p, err = NewProvider(config.SymbolsConfig{Source: "file", PoolFile: "pool.json"})
	require.NoError(t, err)
	assert.IsType(t, &symbols.FileProvider{}, p)

	_, err = NewProvider(config.SymbolsConfig{Source: "exchange"})
	assert.Error(t, err)
}

func TestOpenCache(t *testing.T) {
	ctx := context.Background()

	kc, closer := OpenCache(ctx, config.RedisConfig{Enabled: false})
	assert.Nil(t, kc)
	assert.Nil(t, closer)

	mr := miniredis.RunT(t)
	cfg := config.RedisConfig{Enabled: true, Host: mr.Host(), Port: mustPort(t, mr)}
	kc, closer = OpenCache(ctx, cfg)
	require.NotNil(t, kc)
	require.NotNil(t, closer)
	defer func() { _ = closer.Close() }()

	require.NoError(t, kc.Set(ctx, cache.Snapshot{RoundID: "r1"}))
	snap, ok := kc.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, "r1", snap.RoundID)
}

func TestOpenCache_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.RedisConfig{Enabled: true, Host: mr.Host(), Port: mustPort(t, mr)}
	mr.Close()

	kc, closer := OpenCache(context.Background(), cfg)
	assert.Nil(t, kc)
	assert.Nil(t, closer)
}

func TestOpenPublisher_Disabled(t *testing.T) {
	p, closer, err := OpenPublisher(config.NATSConfig{})
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.IsType(t, events.NopPublisher{}, p)
}

func TestWithLedger(t *testing.T) {
	pub, ledger := WithLedger(events.NopPublisher{}, &Storage{Store: store.NewMemoryStore()})
	assert.Nil(t, ledger)
	assert.IsType(t, events.NopPublisher{}, pub)

	pub, ledger = WithLedger(events.NopPublisher{}, nil)
	assert.Nil(t, ledger)
	assert.IsType(t, events.NopPublisher{}, pub)
}

func TestTournamentConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.KingPool.Mode = "top"
	cfg.KingPool.Capacity = 3
	cfg.Evolution.Seed = 7
	cfg.Symbols.ExportPath = "out/selected.json"

	tc, err := TournamentConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, tc.KingPool.Capacity)
	assert.Equal(t, evolution.AdmissionThreshold, tc.KingPool.Admission)
	assert.EqualValues(t, 7, tc.Seed)
	assert.Equal(t, "out/selected.json", tc.ExportPath)
	assert.Equal(t, cfg.Evolution.ModuleCount, tc.Generator.ModuleCount)
	assert.False(t, tc.KeepModuleHistory)

	cfg.Storage.KeepModuleHistory = true
	tc, err = TournamentConfig(cfg)
	require.NoError(t, err)
	assert.True(t, tc.KeepModuleHistory)

	cfg.KingPool.Mode = "bogus"
	_, err = TournamentConfig(cfg)
	assert.Error(t, err)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestCloseAll(t *testing.T) {
	calls := 0
	ok := closerFunc(func() error { calls++; return nil })
	bad := closerFunc(func() error { calls++; return errors.New("boom") })

	err := CloseAll(ok, nil, bad, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 3, calls)

	assert.NoError(t, CloseAll([]io.Closer{}...))
}

func mustPort(t *testing.T, mr *miniredis.Miniredis) int {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	return port
}
