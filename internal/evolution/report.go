package evolution

// Report aggregates one round's generation for human consumption.
type Report struct {
	RoundID              string               `json:"round_id"`
	Total                int                  `json:"total"`
	PerStage             map[Stage]int        `json:"per_stage"`
	PerStrategy          map[StrategyType]int `json:"per_strategy"`
	PerSymbol            map[string]int       `json:"per_symbol"`
	MeanMutationStrength float64              `json:"mean_mutation_strength"`
	MeanScore            float64              `json:"mean_score"`
	DivineCount          int                  `json:"divine_count"`
	ProtectedCount       int                  `json:"protected_count"`
	ResurrectedCount     int                  `json:"resurrected_count"`
	ExplosiveCount       int                  `json:"explosive_count"`
	EliminatedCount      int                  `json:"eliminated_count"`
	KingID               string               `json:"king_id"`
	KingScore            float64              `json:"king_score"`
	KingRounds           int                  `json:"king_rounds"`
	SlainGodID           string               `json:"slain_god_id,omitempty"`
	UsedFallback         bool                 `json:"used_fallback"`
}

// Summarize builds a Report from a ranked generation.
func Summarize(roundID string, modules []*Module) Report {
	r := Report{
		RoundID:     roundID,
		Total:       len(modules),
		PerStage:    make(map[Stage]int),
		PerStrategy: make(map[StrategyType]int),
		PerSymbol:   make(map[string]int),
	}

	var strength, score float64
	for _, m := range modules {
		r.PerStage[m.MutateStage]++
		r.PerStrategy[m.StrategyType]++
		r.PerSymbol[m.Symbol]++
		strength += m.MutationStrength
		score += m.Score

		if m.IsDivine {
			r.DivineCount++
		}
		if m.Status == StatusProtected {
			r.ProtectedCount++
		}
		if m.Resurrected {
			r.ResurrectedCount++
		}
		if m.Type == ClassExplosive {
			r.ExplosiveCount++
		}
		if m.Eliminated {
			r.EliminatedCount++
		}
		if m.IsFallback() {
			r.UsedFallback = true
		}
		if m.IsKing {
			r.KingID = m.ID
			r.KingScore = m.Score
			r.KingRounds = m.KingRounds
			r.SlainGodID = m.SlainGodID
		}
	}

	if n := len(modules); n > 0 {
		r.MeanMutationStrength = roundTo(strength/float64(n), 4)
		r.MeanScore = roundTo(score/float64(n), 2)
	}
	return r
}
