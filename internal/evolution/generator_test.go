package evolution

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// archived builds a fully scored module as it would appear in the archive.
func archived(id string, score float64, eliminated bool, generation int) *Module {
	bloodline := make([]string, generation)
	for i := range bloodline {
		bloodline[i] = fmt.Sprintf("anc-%d", i)
	}
	return &Module{
		ID:               id,
		Symbol:           "OPUSDT",
		StrategyType:     StrategyScalping,
		Parameters:       Parameters{"ma_fast": 8, "ma_slow": 21, "sl_pct": 1.2, "tp_pct": 2.4},
		Bloodline:        bloodline,
		MutateGeneration: generation,
		Evaluated:        true,
		Score:            score,
		Eliminated:       eliminated,
	}
}

func TestGeneratorConfig_TierSizes(t *testing.T) {
	tests := []struct {
		name       string
		count      int
		t1, t2, t3 int
	}{
		{name: "standard 500", count: 500, t1: 300, t2: 150, t3: 50},
		{name: "small", count: 10, t1: 6, t2: 3, t3: 1},
		{name: "single", count: 1, t1: 1, t2: 0, t3: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultGeneratorConfig()
			cfg.ModuleCount = tt.count
			t1, t2, t3 := cfg.TierSizes()
			assert.Equal(t, tt.t1, t1)
			assert.Equal(t, tt.t2, t2)
			assert.Equal(t, tt.t3, t3)
		})
	}
}

func TestBuildAncestorPools_Tiers(t *testing.T) {
	cfg := DefaultGeneratorConfig()

	king := archived("king-1", 95, false, 2)
	king.KingRounds = 2
	king.IsDivine = true

	archive := []*Module{
		archived("ordinary-1", 40, true, 0),
		archived("resurrect-1", 80, true, 1),
		archived("elite-score-1", 90, false, 0),
		archived("elite-age-1", 10, true, 3),
	}

	pools := BuildAncestorPools(cfg, archive, []*Module{king})

	assert.Len(t, pools.Tier3, 3, "a king reigning k rounds contributes k+1 copies")
	assert.Equal(t, 1, pools.Resurrected)

	ids := func(ms []*Module) []string {
		out := make([]string, 0, len(ms))
		for _, m := range ms {
			out = append(out, m.ID)
		}
		return out
	}
	assert.ElementsMatch(t, []string{"ordinary-1", "resurrect-1"}, ids(pools.Tier1))
	assert.ElementsMatch(t, []string{"elite-score-1", "elite-age-1"}, ids(pools.Tier2))

	for _, m := range pools.Tier1 {
		if m.ID == "resurrect-1" {
			assert.True(t, m.Resurrected)
			assert.True(t, m.FromResurrection)
			assert.Equal(t, 1.0, m.ResurrectionChance)
		}
	}

	// The archive itself is never stamped.
	assert.False(t, archive[1].Resurrected)
	assert.False(t, archive[1].FromResurrection)
}

func TestBuildAncestorPools_ResurrectionCap(t *testing.T) {
	cfg := DefaultGeneratorConfig()
	cfg.ResurrectionCap = 3

	var archive []*Module
	for i := 0; i < 10; i++ {
		archive = append(archive, archived(fmt.Sprintf("fallen-%d", i), 80, true, 0))
	}

	pools := BuildAncestorPools(cfg, archive, nil)

	assert.Equal(t, 3, pools.Resurrected)
	resurrected := 0
	for _, m := range pools.Tier1 {
		if m.Resurrected {
			resurrected++
		}
	}
	assert.Equal(t, 3, resurrected)
	assert.Len(t, pools.Tier1, 10)
}

func TestGenerate_FallbackSeed(t *testing.T) {
	g := NewGenerator(DefaultGeneratorConfig(), 1)

	gen := g.Generate("r1", Input{Symbols: []string{"BTCUSDT"}})

	require.Len(t, gen.Modules, 1)
	assert.True(t, gen.UsedFallback)

	m := gen.Modules[0]
	assert.True(t, m.IsFallback())
	assert.Equal(t, "fallback_X1-r1-1", m.ID)
	assert.Equal(t, "fallback_X1", m.ParentID)
	assert.Equal(t, []string{"fallback_X1"}, m.Bloodline)
	assert.Equal(t, 1, m.MutateGeneration)
	assert.Equal(t, "BTCUSDT", m.Symbol)
	assert.Equal(t, StrategyDualMA, m.StrategyType)
	assert.Equal(t, StatusPending, m.Status)
	assert.Equal(t, []string{"ma_fast", "ma_slow"}, m.IntegerKeys)
	require.NoError(t, m.Validate())
}

func TestGenerate_FallbackSymbolsWhenMissing(t *testing.T) {
	cfg := DefaultGeneratorConfig()
	g := NewGenerator(cfg, 1)

	gen := g.Generate("r1", Input{})

	require.Len(t, gen.Modules, len(cfg.FallbackSymbols))
	for _, m := range gen.Modules {
		assert.Contains(t, cfg.FallbackSymbols, m.Symbol)
	}
}

func TestGenerate_FullPopulation(t *testing.T) {
	cfg := DefaultGeneratorConfig()
	g := NewGenerator(cfg, 2024)

	king := archived("king-7", 99, false, 1)
	king.IsDivine = true
	king.KingRounds = 1

	var archive []*Module
	for i := 0; i < 20; i++ {
		archive = append(archive, archived(fmt.Sprintf("arch-%d", i), float64(60+i), i != 0, i%4))
	}

	gen := g.Generate("abc", Input{
		Archive:       archive,
		Kings:         []*Module{king},
		Symbols:       []string{"MATICUSDT", "OPUSDT"},
		SymbolWeights: map[string]int{"MATICUSDT": 250, "OPUSDT": 250},
	})

	require.Len(t, gen.Modules, cfg.ModuleCount)
	assert.False(t, gen.UsedFallback)

	stages := map[Stage]int{}
	ids := map[string]bool{}
	for _, m := range gen.Modules {
		stages[m.MutateStage]++
		assert.False(t, ids[m.ID], "duplicate id %s", m.ID)
		ids[m.ID] = true

		require.NoError(t, m.Validate())
		assert.Equal(t, len(m.Bloodline), m.MutateGeneration)
		assert.Equal(t, m.ParentID, m.Bloodline[len(m.Bloodline)-1])

		if m.MutateStage == StageRoyal {
			assert.True(t, m.DivineCandidate)
			assert.GreaterOrEqual(t, m.DivineScore, 0.7)
			assert.LessOrEqual(t, m.DivineScore, 1.0)
			assert.True(t, m.MutateBoost)
			assert.Equal(t, "king-7", m.AncestorGodID)
		}
	}
	assert.Equal(t, 300, stages[StageOrdinary])
	assert.Equal(t, 150, stages[StageElite])
	assert.Equal(t, 50, stages[StageRoyal])
}

func TestGenerate_EmptyTiersFallBack(t *testing.T) {
	cfg := DefaultGeneratorConfig()
	cfg.ModuleCount = 20
	g := NewGenerator(cfg, 5)

	// Only ordinary ancestors: elite and royal children must still be produced.
	gen := g.Generate("t", Input{
		Archive: []*Module{archived("plain-1", 10, true, 0)},
		Symbols: []string{"BTCUSDT"},
	})

	require.Len(t, gen.Modules, 20)
	for _, m := range gen.Modules {
		assert.Equal(t, "plain-1", m.ParentID)
	}
}

func TestGenerate_KingsOnly(t *testing.T) {
	cfg := DefaultGeneratorConfig()
	cfg.ModuleCount = 10
	g := NewGenerator(cfg, 9)

	king := archived("king-1", 60, false, 1)
	king.KingRounds = 1

	// No ordinary or elite ancestors: every stage draws from the king lineage.
	gen := g.Generate("t", Input{
		Kings:   []*Module{king},
		Symbols: []string{"OPUSDT"},
	})

	require.Len(t, gen.Modules, 10)
	assert.False(t, gen.UsedFallback)
	for _, m := range gen.Modules {
		assert.Equal(t, "king-1", m.ParentID)
	}
}

func TestGenerate_ResurrectedParentBoostsAndVengeance(t *testing.T) {
	cfg := DefaultGeneratorConfig()
	cfg.ModuleCount = 5
	g := NewGenerator(cfg, 9)

	gen := g.Generate("t", Input{
		Archive: []*Module{archived("phoenix-1", 80, true, 0)},
		Symbols: []string{"BTCUSDT"},
	})

	for _, m := range gen.Modules {
		assert.True(t, m.Resurrected)
		assert.True(t, m.FromResurrection)
		assert.True(t, m.VengeanceMode)
		assert.True(t, m.MutateBoost)
	}
}

func TestGenerate_ChildrenCarryIntegerKeys(t *testing.T) {
	var parent Module
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "legacy-1",
		"symbol": "OPUSDT",
		"strategy_type": "C",
		"parameters": {"rsi_period": 14, "ma_fast": 9, "tp_pct": 2.5},
		"bloodline": [],
		"evaluated": true,
		"score": 70
	}`), &parent))

	cfg := DefaultGeneratorConfig()
	cfg.ModuleCount = 20
	gen := NewGenerator(cfg, 4).Generate("g1", Input{Kings: []*Module{&parent}, Symbols: []string{"OPUSDT"}})
	require.Len(t, gen.Modules, 20)

	for _, child := range gen.Modules {
		assert.Equal(t, []string{"ma_fast", "rsi_period"}, child.IntegerKeys)
		assert.GreaterOrEqual(t, child.Parameters["rsi_period"], 1.0)
		assert.Equal(t, math.Trunc(child.Parameters["rsi_period"]), child.Parameters["rsi_period"])

		// The persisted record keeps its keys even when a real knob lands on a whole number.
		child.Parameters["tp_pct"] = 3
		data, err := json.Marshal(child)
		require.NoError(t, err)
		var decoded Module
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, child.IntegerKeys, decoded.IntegerKeys)
		assert.False(t, decoded.IsIntegerParam("tp_pct"))
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	cfg := DefaultGeneratorConfig()
	cfg.ModuleCount = 50
	in := Input{
		Archive: []*Module{archived("a-1", 50, true, 0), archived("a-2", 88, false, 1)},
		Symbols: []string{"BTCUSDT", "ETHUSDT"},
	}

	first := NewGenerator(cfg, 77).Generate("x", in)
	second := NewGenerator(cfg, 77).Generate("x", in)

	require.Len(t, second.Modules, len(first.Modules))
	for i := range first.Modules {
		assert.Equal(t, first.Modules[i].ID, second.Modules[i].ID)
		assert.Equal(t, first.Modules[i].Symbol, second.Modules[i].Symbol)
		assert.Equal(t, first.Modules[i].Parameters, second.Modules[i].Parameters)
	}
}
