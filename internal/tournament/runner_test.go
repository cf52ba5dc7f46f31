package tournament

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/killcore/killcore/internal/cache"
	"github.com/killcore/killcore/internal/events"
	"github.com/killcore/killcore/internal/evolution"
	"github.com/killcore/killcore/internal/store"
	"github.com/killcore/killcore/internal/symbols"
)

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

// failingEvaluator rejects every module
type failingEvaluator struct{}

func (failingEvaluator) Evaluate(ctx context.Context, m *evolution.Module) (evolution.Outcome, error) {
	return evolution.Outcome{}, errors.New("backtest engine unavailable")
}

// brokenProvider always fails to produce a plan
type brokenProvider struct{}

func (brokenProvider) Plan(ctx context.Context) (symbols.Plan, error) {
	return symbols.Plan{}, symbols.ErrNoPool
}

func testConfig(moduleCount int) Config {
	cfg := DefaultConfig()
	cfg.Generator.ModuleCount = moduleCount
	cfg.Seed = 42
	cfg.Parallelism = 4
	return cfg
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("round%03d-0000-0000-0000-000000000000", n)
	}
}

func newTestRunner(t *testing.T, cfg Config, st store.Store, provider symbols.Provider, opts ...Option) *Runner {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	r, err := NewRunner(cfg, st, provider, zerolog.Nop(), opts...)
	require.NoError(t, err)
	r.newID = sequentialIDs()
	return r
}

func TestNewRunner_RequiresStore(t *testing.T) {
	_, err := NewRunner(testConfig(10), nil, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestRunRound_FallbackSeed(t *testing.T) {
	st := store.NewMemoryStore()
	exportPath := filepath.Join(t.TempDir(), "out", "selected_symbols.json")

	cfg := testConfig(500)
	cfg.ExportPath = exportPath
	pub := &recordingPublisher{}
	r := newTestRunner(t, cfg, st, symbols.NewFixedProvider([]string{"BTCUSDT"}), WithPublisher(pub))

	res, err := r.RunRound(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Modules, 1)
	king := res.King
	assert.True(t, strings.HasPrefix(king.ID, evolution.FallbackPrefix), king.ID)
	assert.Equal(t, 1, king.KingRounds)
	assert.True(t, king.IsKing)
	assert.True(t, king.IsDivine)
	assert.True(t, res.Report.UsedFallback)
	assert.Equal(t, []string{"BTCUSDT"}, res.Symbols)

	ctx := context.Background()
	kings, err := st.LoadKingPool(ctx)
	require.NoError(t, err)
	require.Len(t, kings, 1)
	assert.Equal(t, king.ID, kings[0].ID)

	godline, err := st.LoadGodline(ctx)
	require.NoError(t, err)
	require.Len(t, godline, 1)
	assert.True(t, godline[0].IsDivine)

	archive, err := st.LoadArchive(ctx)
	require.NoError(t, err)
	assert.Len(t, archive, 1)

	result, err := st.LoadResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.RoundID, result.RoundID)

	stored, err := st.GetModule(ctx, king.ID)
	require.NoError(t, err)
	assert.Equal(t, king.Score, stored.Score)

	data, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	var exported []string
	require.NoError(t, json.Unmarshal(data, &exported))
	assert.Equal(t, []string{"BTCUSDT"}, exported)

	assert.Equal(t, []events.Type{events.TypeKingCrowned, events.TypeRoundCompleted}, pub.types())
}

func TestRunRound_Lineage(t *testing.T) {
	st := store.NewMemoryStore()
	pub := &recordingPublisher{}
	r := newTestRunner(t, testConfig(40), st, symbols.NewFixedProvider(nil), WithPublisher(pub))
	ctx := context.Background()

	first, err := r.RunRound(ctx)
	require.NoError(t, err)
	pub.reset()

	second, err := r.RunRound(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, first.RoundID, second.RoundID)
	require.Len(t, second.Modules, 40)
	assert.False(t, second.Report.UsedFallback)

	for i, m := range second.Modules {
		assert.Equal(t, i+1, m.ScoreRank)
		assert.True(t, strings.Contains(m.ID, "-round002-"), m.ID)
		if i > 0 {
			assert.GreaterOrEqual(t, second.Modules[i-1].Score, m.Score)
		}
	}

	// A fresh generation never contains the previous god, so it is slain.
	assert.True(t, second.Succession.Godslayer)
	assert.Equal(t, first.King.ID, second.Succession.PreviousDivineID)
	assert.Equal(t, first.King.ID, second.King.SlainGodID)
	assert.Equal(t,
		[]events.Type{events.TypeKingCrowned, events.TypeGodslayer, events.TypeGodFallen, events.TypeRoundCompleted},
		pub.types())

	godline, err := st.LoadGodline(ctx)
	require.NoError(t, err)
	require.Len(t, godline, 2)
	assert.True(t, godline[0].Fallen)
	assert.False(t, godline[0].IsDivine)
	assert.Equal(t, second.King.ID, godline[1].ID)

	kings, err := st.LoadKingPool(ctx)
	require.NoError(t, err)
	require.Len(t, kings, 1, "single-slot pool keeps only the reigning king")
	assert.Equal(t, second.King.ID, kings[0].ID)
	assert.True(t, kings[0].IsDivine)
	assertSingleGod(t, st)

	third, err := r.RunRound(ctx)
	require.NoError(t, err)
	assertSingleGod(t, st)
	for _, m := range third.Modules {
		if m.AncestorGodID != "" {
			assert.Equal(t, second.King.ID, m.AncestorGodID, m.ID)
		}
	}

	archive, err := st.LoadArchive(ctx)
	require.NoError(t, err)
	assert.Len(t, archive, 40)
}

// assertSingleGod checks that the persisted king pool holds at most one
// divine module and that it is the godline's reigning god.
func assertSingleGod(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()

	kings, err := st.LoadKingPool(ctx)
	require.NoError(t, err)
	godline, err := st.LoadGodline(ctx)
	require.NoError(t, err)

	reigning, ok := evolution.NewGodline(godline).LastDivine()
	divine := 0
	for _, k := range kings {
		if !k.IsDivine {
			continue
		}
		divine++
		require.True(t, ok, "divine pool member %s without a reigning god", k.ID)
		assert.Equal(t, reigning.ID, k.ID)
	}
	assert.LessOrEqual(t, divine, 1, "king pool holds %d divine modules", divine)
}

func topPoolConfig(capacity int) Config {
	cfg := testConfig(20)
	cfg.KingPool = evolution.KingPoolPolicy{Capacity: capacity, Admission: evolution.AdmissionThreshold}
	return cfg
}

func TestRunRound_TopKingPool(t *testing.T) {
	st := store.NewMemoryStore()
	r := newTestRunner(t, topPoolConfig(3), st, symbols.NewFixedProvider(nil))
	ctx := context.Background()

	var prev *RoundResult
	for round := 1; round <= 5; round++ {
		res, err := r.RunRound(ctx)
		require.NoError(t, err, "round %d", round)
		assertSingleGod(t, st)

		// Children inherit a god id only from the god reigning when they were bred.
		for _, m := range res.Modules {
			if m.AncestorGodID == "" {
				continue
			}
			require.NotNil(t, prev, "fallback round has no god ancestors")
			assert.Equal(t, prev.King.ID, m.AncestorGodID, "round %d module %s", round, m.ID)
		}
		prev = res
	}

	kings, err := st.LoadKingPool(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(kings), 3)
	assert.GreaterOrEqual(t, len(kings), 1)
	for i := 1; i < len(kings); i++ {
		assert.GreaterOrEqual(t, kings[i-1].Score, kings[i].Score)
	}
	for _, k := range kings {
		if k.ID == prev.King.ID {
			assert.True(t, k.IsDivine)
			continue
		}
		assert.True(t, k.WasGod, k.ID)
		assert.Equal(t, evolution.StatusFallen, k.Status)
	}
}

func TestRunRound_TopKingPoolDemotesStaleGods(t *testing.T) {
	st := store.NewMemoryStore()
	r := newTestRunner(t, topPoolConfig(10), st, symbols.NewFixedProvider(nil))
	ctx := context.Background()

	var last *RoundResult
	for round := 0; round < 3; round++ {
		res, err := r.RunRound(ctx)
		require.NoError(t, err)
		last = res
	}

	// A pool persisted with every former king still marked divine.
	kings, err := st.LoadKingPool(ctx)
	require.NoError(t, err)
	require.Greater(t, len(kings), 1)
	for _, k := range kings {
		k.IsDivine = true
		k.WasGod = false
	}
	require.NoError(t, st.SaveKingPool(ctx, kings))

	res, err := r.RunRound(ctx)
	require.NoError(t, err)
	assertSingleGod(t, st)

	for _, m := range res.Modules {
		if m.AncestorGodID != "" {
			assert.Equal(t, last.King.ID, m.AncestorGodID, m.ID)
		}
	}
}

func TestRunRound_ModuleRetention(t *testing.T) {
	tests := []struct {
		name        string
		keepHistory bool
	}{
		{name: "prunes earlier rounds"},
		{name: "keeps history", keepHistory: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemoryStore()
			cfg := testConfig(20)
			cfg.KeepModuleHistory = tt.keepHistory
			r := newTestRunner(t, cfg, st, symbols.NewFixedProvider(nil))
			ctx := context.Background()

			written := map[string]bool{}
			var results []*RoundResult
			for round := 0; round < 3; round++ {
				res, err := r.RunRound(ctx)
				require.NoError(t, err)
				for _, m := range res.Modules {
					written[m.ID] = true
				}
				results = append(results, res)
			}
			last := results[len(results)-1]

			stored, err := st.ListModules(ctx)
			require.NoError(t, err)
			storedIDs := map[string]bool{}
			for _, m := range stored {
				storedIDs[m.ID] = true
			}
			for _, m := range last.Modules {
				assert.True(t, storedIDs[m.ID], "current generation module %s", m.ID)
			}

			if tt.keepHistory {
				assert.Len(t, stored, len(written))
				return
			}

			retained := map[string]bool{}
			for _, id := range retainedModuleIDs(last) {
				retained[id] = true
			}
			for id := range storedIDs {
				assert.True(t, retained[id], "stale module %s left behind", id)
			}
			for _, k := range last.KingPool {
				_, err := st.GetModule(ctx, k.ID)
				assert.NoError(t, err, "king %s", k.ID)
			}
			for _, m := range results[1].Modules {
				if retained[m.ID] {
					continue
				}
				_, err := st.GetModule(ctx, m.ID)
				assert.ErrorIs(t, err, store.ErrNotFound, m.ID)
			}
			assert.Less(t, len(stored), len(written))
		})
	}
}

func TestRunRound_PartialWrite(t *testing.T) {
	st := store.NewMemoryStore()
	st.FailWrites(store.ArtifactGodline, errors.New("disk full"))

	// Exporting into a path whose parent is a regular file fails.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	cfg := testConfig(10)
	cfg.ExportPath = filepath.Join(blocker, "selected.json")

	r := newTestRunner(t, cfg, st, symbols.NewFixedProvider(nil))

	res, err := r.RunRound(context.Background())
	require.Error(t, err)
	require.NotNil(t, res, "a partial write still returns the round result")

	var pwe *evolution.PartialWriteError
	require.ErrorAs(t, err, &pwe)
	assert.Equal(t, res.RoundID, pwe.RoundID)
	assert.Equal(t, []string{store.ArtifactGodline, store.ArtifactSymbols}, pwe.Artifacts())

	// Successful writes are kept.
	kings, err := st.LoadKingPool(context.Background())
	require.NoError(t, err)
	assert.Len(t, kings, 1)

	godline, err := st.LoadGodline(context.Background())
	require.NoError(t, err)
	assert.Empty(t, godline)
}

func TestRunRound_MissingSymbolsUseFallback(t *testing.T) {
	cfg := testConfig(10)
	cfg.Generator.FallbackSymbols = []string{"ETHUSDT"}
	r := newTestRunner(t, cfg, store.NewMemoryStore(), brokenProvider{})

	res, err := r.RunRound(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ETHUSDT"}, res.Symbols)
	assert.Equal(t, "ETHUSDT", res.King.Symbol)
}

func TestRunRound_EvaluationFailure(t *testing.T) {
	st := store.NewMemoryStore()
	pub := &recordingPublisher{}
	r := newTestRunner(t, testConfig(10), st, symbols.NewFixedProvider(nil),
		WithEvaluator(failingEvaluator{}), WithPublisher(pub))

	res, err := r.RunRound(context.Background())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "backtest engine unavailable")

	assert.Equal(t, []events.Type{events.TypeRoundFailed}, pub.types())

	// Nothing is persisted for an aborted round.
	_, err = st.LoadResult(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunRound_IncompatibleSchemaAborts(t *testing.T) {
	st := store.NewMemoryStore()
	newer := evolution.FallbackSeed()
	newer.SchemaVersion = "5.0.0"
	require.NoError(t, st.SaveKingPool(context.Background(), []*evolution.Module{newer}))

	r := newTestRunner(t, testConfig(10), st, symbols.NewFixedProvider(nil))

	_, err := r.RunRound(context.Background())
	assert.ErrorIs(t, err, store.ErrIncompatibleSchema)
}

func TestRunRound_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newTestRunner(t, testConfig(10), store.NewMemoryStore(), symbols.NewFixedProvider(nil))
	_, err := r.RunRound(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunRound_PublishFailureIsNotFatal(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("bus down")}
	r := newTestRunner(t, testConfig(10), store.NewMemoryStore(), symbols.NewFixedProvider(nil), WithPublisher(pub))

	_, err := r.RunRound(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, pub.types())
}

func TestRunRound_RefreshesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	kc := cache.NewKingCache(client, cache.Options{})

	r := newTestRunner(t, testConfig(10), store.NewMemoryStore(), symbols.NewFixedProvider(nil), WithCache(kc))

	res, err := r.RunRound(context.Background())
	require.NoError(t, err)

	snap, ok := kc.Get(context.Background())
	require.True(t, ok)
	assert.Equal(t, res.RoundID, snap.RoundID)
	require.NotNil(t, snap.King)
	assert.Equal(t, res.King.ID, snap.King.ID)
	assert.Len(t, snap.Godline, 1)
}

func TestRun_StopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := newTestRunner(t, testConfig(5), store.NewMemoryStore(), symbols.NewFixedProvider(nil))

	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	last, err := r.Run(ctx, 0, 10*time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotNil(t, last)
}

func TestRun_Deterministic(t *testing.T) {
	run := func() []float64 {
		r := newTestRunner(t, testConfig(25), store.NewMemoryStore(), symbols.NewFixedProvider(nil))
		_, err := r.Run(context.Background(), 3, 0)
		require.NoError(t, err)
		res, err := r.RunRound(context.Background())
		require.NoError(t, err)
		scores := make([]float64, 0, len(res.Modules))
		for _, m := range res.Modules {
			scores = append(scores, m.Score)
		}
		return scores
	}

	assert.Equal(t, run(), run())
}

func TestRoundTag(t *testing.T) {
	assert.Equal(t, "abcdefgh", roundTag("abcdefgh-1234"))
	assert.Equal(t, "short", roundTag("short"))
}
