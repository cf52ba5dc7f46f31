// Package symbols supplies the trading pairs a round competes on and the
// strategy allocation plan derived from them.
package symbols

import (
	"math/rand"
	"slices"

	"github.com/killcore/killcore/internal/evolution"
)

// FixedSymbols is the battle pair list used when no pool is configured.
var FixedSymbols = []string{"MATICUSDT", "OPUSDT"}

// Assignment allocates a number of modules of one strategy type to a symbol.
type Assignment struct {
	Symbol       string                 `json:"symbol" yaml:"symbol"`
	StrategyType evolution.StrategyType `json:"strategy_type" yaml:"strategy_type"`
	ModuleCount  int                    `json:"module_count" yaml:"module_count"`
}

// Plan is the ordered allocation for one round.
type Plan struct {
	Assignments []Assignment `json:"assignments"`
}

// RecommendStrategies returns the strategy types suited to a symbol.
func RecommendStrategies(symbol string) []evolution.StrategyType {
	switch symbol {
	case "MATICUSDT":
		return []evolution.StrategyType{evolution.StrategyDualMA, evolution.StrategyScalping}
	case "OPUSDT":
		return []evolution.StrategyType{evolution.StrategyRangeReversal, evolution.StrategyScalping}
	default:
		return []evolution.StrategyType{evolution.StrategyScalping}
	}
}

// AllocateModuleCounts returns how many modules each recommended strategy gets on a symbol.
func AllocateModuleCounts(symbol string) map[evolution.StrategyType]int {
	switch symbol {
	case "MATICUSDT":
		return map[evolution.StrategyType]int{evolution.StrategyDualMA: 150, evolution.StrategyScalping: 100}
	case "OPUSDT":
		return map[evolution.StrategyType]int{evolution.StrategyRangeReversal: 180, evolution.StrategyScalping: 70}
	default:
		return map[evolution.StrategyType]int{evolution.StrategyScalping: 100}
	}
}

// BuildPlan expands symbols into strategy assignments, preserving symbol order.
// Duplicate and empty symbols are skipped.
func BuildPlan(symbols []string) Plan {
	var plan Plan
	seen := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true

		alloc := AllocateModuleCounts(sym)
		for _, st := range RecommendStrategies(sym) {
			plan.Assignments = append(plan.Assignments, Assignment{
				Symbol:       sym,
				StrategyType: st,
				ModuleCount:  alloc[st],
			})
		}
	}
	return plan
}

// Symbols returns the distinct symbols of the plan in order of first appearance.
func (p Plan) Symbols() []string {
	var out []string
	for _, a := range p.Assignments {
		if !slices.Contains(out, a.Symbol) {
			out = append(out, a.Symbol)
		}
	}
	return out
}

// Weights returns the total module count allocated to each symbol.
func (p Plan) Weights() map[string]int {
	w := make(map[string]int)
	for _, a := range p.Assignments {
		w[a.Symbol] += a.ModuleCount
	}
	return w
}

// TotalModules is the sum of all assignment module counts.
func (p Plan) TotalModules() int {
	total := 0
	for _, a := range p.Assignments {
		total += a.ModuleCount
	}
	return total
}

// StrategyMap groups the plan's symbols by strategy type.
func (p Plan) StrategyMap() map[evolution.StrategyType][]string {
	m := make(map[evolution.StrategyType][]string)
	for _, a := range p.Assignments {
		if !slices.Contains(m[a.StrategyType], a.Symbol) {
			m[a.StrategyType] = append(m[a.StrategyType], a.Symbol)
		}
	}
	return m
}

// Pick draws an assignment with probability proportional to its module count.
// It returns false for an empty plan.
func (p Plan) Pick(rng *rand.Rand) (Assignment, bool) {
	total := p.TotalModules()
	if total <= 0 {
		if len(p.Assignments) == 0 {
			return Assignment{}, false
		}
		return p.Assignments[rng.Intn(len(p.Assignments))], true
	}

	n := rng.Intn(total)
	for _, a := range p.Assignments {
		if n < a.ModuleCount {
			return a, true
		}
		n -= a.ModuleCount
	}
	return p.Assignments[len(p.Assignments)-1], true
}
