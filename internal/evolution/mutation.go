package evolution

import (
	"math"
	"math/rand"

	"github.com/shopspring/decimal"
)

// MutationPolicy bounds the multiplicative jitter applied to parameters.
type MutationPolicy struct {
	NormalLow  float64 `json:"normal_low"`
	NormalHigh float64 `json:"normal_high"`
	BoostLow   float64 `json:"boost_low"`
	BoostHigh  float64 `json:"boost_high"`
	DivineLow  float64 `json:"divine_low"`
	DivineHigh float64 `json:"divine_high"`
	Precision  int32   `json:"precision"` // decimal places kept for real-valued knobs
}

// DefaultMutationPolicy returns the standard jitter ranges.
func DefaultMutationPolicy() MutationPolicy {
	return MutationPolicy{
		NormalLow:  0.95,
		NormalHigh: 1.05,
		BoostLow:   0.85,
		BoostHigh:  1.25,
		DivineLow:  0.98,
		DivineHigh: 1.02,
		Precision:  4,
	}
}

// factorRange selects the jitter range. Divine damping takes precedence over boost.
func (p MutationPolicy) factorRange(boost, divine bool) (float64, float64) {
	switch {
	case divine:
		return p.DivineLow, p.DivineHigh
	case boost:
		return p.BoostLow, p.BoostHigh
	default:
		return p.NormalLow, p.NormalHigh
	}
}

// Mutate returns a jittered copy of the parent's parameters and the mutation
// strength (mean absolute deviation of the applied factors from 1).
// Keys are visited in sorted order so a seeded rng reproduces the same child.
func (p MutationPolicy) Mutate(rng *rand.Rand, parent *Module, boost, divine bool) (Parameters, float64) {
	lo, hi := p.factorRange(boost, divine)
	out := make(Parameters, len(parent.Parameters))

	var deviation float64
	keys := parent.Parameters.Keys()
	for _, k := range keys {
		v := parent.Parameters[k]
		factor := lo + rng.Float64()*(hi-lo)
		deviation += math.Abs(factor - 1)

		if parent.IsIntegerParam(k) {
			out[k] = math.Max(1, math.Trunc(v*factor))
			continue
		}
		out[k] = roundTo(v*factor, p.Precision)
	}

	if len(keys) == 0 {
		return out, 0
	}
	return out, roundTo(deviation/float64(len(keys)), p.Precision)
}

// roundTo rounds v half away from zero to the given number of decimal places.
func roundTo(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
