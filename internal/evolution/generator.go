package evolution

import (
	"fmt"
	"math"
	"math/rand"
	"slices"
	"time"

	"github.com/rs/zerolog/log"
)

// ============================================================================
// CONFIGURATION
// ============================================================================

// GeneratorConfig controls population size, tier split and ancestor selection.
type GeneratorConfig struct {
	ModuleCount              int            `json:"module_count"`
	Tier1Share               float64        `json:"tier1_share"`
	Tier2Share               float64        `json:"tier2_share"`
	ResurrectionThreshold    float64        `json:"resurrection_threshold"`
	ResurrectionCap          int            `json:"resurrection_cap"`
	EliteScoreThreshold      float64        `json:"elite_score_threshold"`
	EliteGenerationThreshold int            `json:"elite_generation_threshold"`
	VirtualCapital           float64        `json:"virtual_capital"`
	FallbackSymbols          []string       `json:"fallback_symbols"`
	Mutation                 MutationPolicy `json:"mutation"`
}

// DefaultGeneratorConfig returns the standard 500-module, 300/150/50 split.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		ModuleCount:              500,
		Tier1Share:               0.6,
		Tier2Share:               0.3,
		ResurrectionThreshold:    75,
		ResurrectionCap:          100,
		EliteScoreThreshold:      85,
		EliteGenerationThreshold: 3,
		VirtualCapital:           1000.0,
		FallbackSymbols:          []string{"ETHUSDT", "BTCUSDT"},
		Mutation:                 DefaultMutationPolicy(),
	}
}

// TierSizes returns how many children each tier produces out of ModuleCount.
func (c GeneratorConfig) TierSizes() (int, int, int) {
	n := c.ModuleCount
	t1 := int(math.Round(float64(n) * c.Tier1Share))
	t2 := int(math.Round(float64(n) * c.Tier2Share))
	if t1 > n {
		t1 = n
	}
	if t1+t2 > n {
		t2 = n - t1
	}
	return t1, t2, n - t1 - t2
}

// ============================================================================
// ANCESTOR POOLS
// ============================================================================

// AncestorPools holds the three weighted tiers parents are drawn from.
type AncestorPools struct {
	Tier1       []*Module
	Tier2       []*Module
	Tier3       []*Module
	Resurrected int
}

// Empty reports whether no tier has any ancestor.
func (p AncestorPools) Empty() bool {
	return len(p.Tier1) == 0 && len(p.Tier2) == 0 && len(p.Tier3) == 0
}

// forStage returns the pool for a stage, falling back to lower tiers when
// empty and then to any non-empty tier. Callers must check Empty first.
func (p AncestorPools) forStage(stage Stage) []*Module {
	switch stage {
	case StageRoyal:
		if len(p.Tier3) > 0 {
			return p.Tier3
		}
		fallthrough
	case StageElite:
		if len(p.Tier2) > 0 {
			return p.Tier2
		}
		fallthrough
	default:
		if len(p.Tier1) > 0 {
			return p.Tier1
		}
	}
	if len(p.Tier2) > 0 {
		return p.Tier2
	}
	return p.Tier3
}

// BuildAncestorPools sorts the archive and king lineage into tiers.
// Inputs are cloned; the archive is never modified.
func BuildAncestorPools(cfg GeneratorConfig, archive, kings []*Module) AncestorPools {
	var pools AncestorPools

	for _, k := range kings {
		if k == nil {
			continue
		}
		king := k.Clone()
		weight := 1 + max(0, king.KingRounds)
		for i := 0; i < weight; i++ {
			pools.Tier3 = append(pools.Tier3, king)
		}
	}

	for _, a := range archive {
		if a == nil {
			continue
		}
		m := a.Clone()
		switch {
		case m.Eliminated && m.Score > cfg.ResurrectionThreshold && pools.Resurrected < cfg.ResurrectionCap:
			m.Resurrected = true
			m.FromResurrection = true
			m.ResurrectionChance = 1.0
			pools.Resurrected++
			pools.Tier1 = append(pools.Tier1, m)
		case m.Score > cfg.EliteScoreThreshold || m.MutateGeneration >= cfg.EliteGenerationThreshold:
			pools.Tier2 = append(pools.Tier2, m)
		default:
			pools.Tier1 = append(pools.Tier1, m)
		}
	}

	return pools
}

// ============================================================================
// GENERATOR
// ============================================================================

// Input bundles the upstream data consumed by one generation.
type Input struct {
	Archive []*Module
	Kings   []*Module
	Symbols []string
	// SymbolWeights biases symbol selection (e.g. module counts from the
	// symbol plan). Symbols without a weight are drawn uniformly.
	SymbolWeights map[string]int
}

// Generation is the output of one Generate call.
type Generation struct {
	Modules      []*Module
	Pools        AncestorPools
	UsedFallback bool
}

// Generator produces new generations by mutating weighted ancestors.
type Generator struct {
	cfg  GeneratorConfig
	rng  *rand.Rand
	seed int64
	now  func() time.Time
}

// NewGenerator creates a generator. A zero seed selects a time-based seed.
func NewGenerator(cfg GeneratorConfig, seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(seed)), // #nosec G404 -- reproducible evolutionary search, not security
		seed: seed,
		now:  time.Now,
	}
}

// Seed returns the seed the generator was created with.
func (g *Generator) Seed() int64 {
	return g.seed
}

// Generate builds a new generation. tag is embedded in every child id so ids
// stay unique across rounds. Missing inputs never abort the generation.
func (g *Generator) Generate(tag string, in Input) *Generation {
	symbols := in.Symbols
	if len(symbols) == 0 {
		symbols = g.cfg.FallbackSymbols
		log.Warn().Strs("symbols", symbols).Msg("No symbols supplied, using fallback list")
	}

	pools := BuildAncestorPools(g.cfg, in.Archive, in.Kings)
	gen := &Generation{Pools: pools}

	count := g.cfg.ModuleCount
	if pools.Empty() {
		log.Warn().Msg("No ancestors available, seeding from fallback module")
		pools.Tier1 = []*Module{FallbackSeed()}
		gen.Pools = pools
		gen.UsedFallback = true
		count = min(count, len(symbols))
	}

	log.Info().
		Strs("symbols", symbols).
		Int("tier1", len(pools.Tier1)).
		Int("tier2", len(pools.Tier2)).
		Int("tier3", len(pools.Tier3)).
		Int("resurrected", pools.Resurrected).
		Msg("Ancestor pools built")

	t1, t2, _ := g.cfg.TierSizes()
	pick := newSymbolPicker(symbols, in.SymbolWeights)

	gen.Modules = make([]*Module, 0, count)
	for i := 0; i < count; i++ {
		stage := StageOrdinary
		switch {
		case gen.UsedFallback:
		case i >= t1+t2:
			stage = StageRoyal
		case i >= t1:
			stage = StageElite
		}

		pool := pools.forStage(stage)
		parent := pool[g.rng.Intn(len(pool))]

		var symbol string
		if gen.UsedFallback {
			symbol = symbols[i%len(symbols)]
		} else {
			symbol = pick(g.rng)
		}

		gen.Modules = append(gen.Modules, g.spawn(parent, tag, i+1, symbol, stage))
	}

	log.Info().
		Int("modules", len(gen.Modules)).
		Bool("fallback", gen.UsedFallback).
		Msg("Generation complete")

	return gen
}

// spawn mutates parent into a child of the given stage.
func (g *Generator) spawn(parent *Module, tag string, index int, symbol string, stage Stage) *Module {
	boost := stage != StageOrdinary || parent.Resurrected
	params, strength := g.cfg.Mutation.Mutate(g.rng, parent, boost, parent.IsDivine)

	now := g.now()
	child := &Module{
		ID:                 fmt.Sprintf("%s-%s-%d", parent.IDPrefix(), tag, index),
		ParentID:           parent.ID,
		Bloodline:          append(slices.Clone(parent.Bloodline), parent.ID),
		Symbol:             symbol,
		StrategyType:       parent.StrategyType,
		Parameters:         params,
		IntegerKeys:        parent.ResolvedIntegerKeys(),
		MutateGeneration:   parent.MutateGeneration + 1,
		MutateStage:        stage,
		MutateBoost:        boost,
		MutationStrength:   strength,
		Resurrected:        parent.Resurrected,
		FromResurrection:   parent.FromResurrection,
		ResurrectionChance: parent.ResurrectionChance,
		VengeanceMode:      parent.Resurrected,
		VirtualCapital:     g.cfg.VirtualCapital,
		Type:               ClassUnknown,
		Status:             StatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
		SchemaVersion:      SchemaVersion,
	}
	if parent.IsDivine {
		child.AncestorGodID = parent.ID
	}
	if stage == StageRoyal {
		child.DivineCandidate = true
		child.DivineScore = roundTo(0.7+g.rng.Float64()*0.3, 4)
	}
	return child
}

// newSymbolPicker returns a weighted symbol sampler. Weights default to 1.
func newSymbolPicker(symbols []string, weights map[string]int) func(*rand.Rand) string {
	cumulative := make([]int, len(symbols))
	total := 0
	for i, s := range symbols {
		w := 1
		if weights != nil {
			if v, ok := weights[s]; ok {
				w = max(0, v)
			}
		}
		total += w
		cumulative[i] = total
	}

	return func(rng *rand.Rand) string {
		if total == 0 {
			return symbols[rng.Intn(len(symbols))]
		}
		r := rng.Intn(total)
		for i, c := range cumulative {
			if r < c {
				return symbols[i]
			}
		}
		return symbols[len(symbols)-1]
	}
}
