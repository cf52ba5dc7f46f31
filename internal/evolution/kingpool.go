package evolution

import (
	"fmt"
	"slices"
	"sort"

	"github.com/rs/zerolog/log"
)

// AdmissionRule decides how a new king enters the pool.
type AdmissionRule string

const (
	// AdmissionReplace keeps only the reigning king.
	AdmissionReplace AdmissionRule = "replace"
	// AdmissionThreshold inserts while the pool has room, then only when the
	// newcomer beats the weakest member.
	AdmissionThreshold AdmissionRule = "threshold"
)

// KingPoolPolicy selects capacity and admission behaviour at construction time.
type KingPoolPolicy struct {
	Capacity  int           `json:"capacity"`
	Admission AdmissionRule `json:"admission"`
}

// SingleSlotPolicy holds exactly the current king.
func SingleSlotPolicy() KingPoolPolicy {
	return KingPoolPolicy{Capacity: 1, Admission: AdmissionReplace}
}

// TopPolicy keeps the best 100 kings ordered by score.
func TopPolicy() KingPoolPolicy {
	return KingPoolPolicy{Capacity: 100, Admission: AdmissionThreshold}
}

// PolicyForMode maps a configuration mode ("single" or "top") to a policy.
func PolicyForMode(mode string, capacity int) (KingPoolPolicy, error) {
	switch mode {
	case "", "single":
		return SingleSlotPolicy(), nil
	case "top":
		p := TopPolicy()
		if capacity > 0 {
			p.Capacity = capacity
		}
		return p, nil
	default:
		return KingPoolPolicy{}, fmt.Errorf("unknown king pool mode %q", mode)
	}
}

// KingPool is the bounded, score-ordered collection of champions.
type KingPool struct {
	policy KingPoolPolicy
	kings  []*Module
}

// NewKingPool creates a pool seeded with existing kings, trimmed to capacity.
func NewKingPool(policy KingPoolPolicy, existing []*Module) *KingPool {
	if policy.Capacity <= 0 {
		policy.Capacity = 1
	}
	p := &KingPool{policy: policy}
	for _, k := range existing {
		if k != nil {
			p.kings = append(p.kings, k.Clone())
		}
	}
	p.sortAndTrim()
	return p
}

// Policy returns the pool's policy.
func (p *KingPool) Policy() KingPoolPolicy {
	return p.policy
}

// Kings returns the pool members ordered by score descending.
func (p *KingPool) Kings() []*Module {
	out := make([]*Module, len(p.kings))
	copy(out, p.kings)
	return out
}

// Len returns the number of kings in the pool.
func (p *KingPool) Len() int {
	return len(p.kings)
}

// Admit offers a new king to the pool and reports whether it was accepted.
func (p *KingPool) Admit(m *Module) bool {
	king := m.Clone()

	if p.policy.Admission == AdmissionReplace {
		p.kings = []*Module{king}
		return true
	}

	if len(p.kings) >= p.policy.Capacity {
		weakest := p.kings[len(p.kings)-1]
		if king.Score <= weakest.Score {
			log.Info().
				Str("module_id", king.ID).
				Float64("score", king.Score).
				Float64("min_score", weakest.Score).
				Msg("King rejected from pool")
			return false
		}
	}

	p.kings = append(p.kings, king)
	p.sortAndTrim()
	return true
}

func (p *KingPool) sortAndTrim() {
	sort.SliceStable(p.kings, func(i, j int) bool {
		return p.kings[i].Score > p.kings[j].Score
	})
	if len(p.kings) > p.policy.Capacity {
		p.kings = p.kings[:p.policy.Capacity]
	}
}

// Settle strips divine status from every member whose id is not listed in
// divine and returns the ids it demoted.
func (p *KingPool) Settle(divine ...string) []string {
	return SettleDivinity(p.kings, divine...)
}

// SettleDivinity demotes every divine king not named in divine to a fallen
// god, in place. Kings persisted before a dethronement still carry their old
// divine flags; the godline is the authority on who reigns.
func SettleDivinity(kings []*Module, divine ...string) []string {
	var demoted []string
	for _, k := range kings {
		if k == nil || !k.IsDivine || slices.Contains(divine, k.ID) {
			continue
		}
		k.IsDivine = false
		k.DivineTitle = ""
		k.HasDivineProtection = false
		k.WasGod = true
		k.Status = StatusFallen
		demoted = append(demoted, k.ID)
	}
	return demoted
}
