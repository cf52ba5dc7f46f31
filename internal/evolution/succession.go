package evolution

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// Succession describes the outcome of one round's king selection.
type Succession struct {
	King *Module
	// PreviousDivineID is the id of the god recorded at the end of the godline
	// before this round, if any.
	PreviousDivineID string
	// Dethroned is the previous god when it took part in this generation.
	Dethroned *Module
	// Godslayer is set when the new king displaced a different god.
	Godslayer bool
	// Protected lists non-king gods exempted from elimination.
	Protected []*Module
}

// Rank orders modules by score descending and assigns score_rank 1..N.
// Ties keep generation iteration order (stable sort), which is the
// documented tie-break. Modules without an evaluation are rejected.
func Rank(modules []*Module) error {
	if len(modules) == 0 {
		return ErrDegenerateGeneration
	}
	for _, m := range modules {
		if !m.Evaluated {
			return fmt.Errorf("%w: %s", ErrIncompleteModule, m.ID)
		}
	}

	sort.SliceStable(modules, func(i, j int) bool {
		return modules[i].Score > modules[j].Score
	})
	for i, m := range modules {
		m.ScoreRank = i + 1
	}
	return nil
}

// Succeed ranks the scored generation, crowns the king, transfers divine
// status and records the king in the godline. modules is reordered by rank.
func Succeed(modules []*Module, godline *Godline, now time.Time) (*Succession, error) {
	if err := Rank(modules); err != nil {
		return nil, err
	}

	// Provisional elimination
	for i, m := range modules {
		m.IsKing = i == 0
		m.Eliminated = i != 0
		m.UpdatedAt = now
	}

	king := modules[0]
	king.KingRounds++
	king.HasDivineProtection = true

	s := &Succession{King: king}

	// Divine transfer
	prev, hasPrev := godline.LastDivine()
	if hasPrev {
		s.PreviousDivineID = prev.ID
	}
	usurped := hasPrev && prev.ID != king.ID
	if usurped {
		for _, m := range modules {
			if m.ID == prev.ID {
				fall(m)
				s.Dethroned = m
			}
		}
		godline.Revoke(prev.ID)
	}

	king.IsDivine = true
	king.DivineRounds++
	king.DivineTitle = fmt.Sprintf("True God #%d", king.KingRounds)
	king.Eliminated = false

	// Godslayer tagging
	if usurped {
		king.IsGodslayer = true
		king.SlainGodID = prev.ID
		s.Godslayer = true
	}

	// Divine protection overrides rank-based elimination for multi-round gods.
	// Any other god left without protection loses its status.
	for _, m := range modules[1:] {
		if !m.IsDivine {
			continue
		}
		if m.KingRounds > 1 {
			m.HasDivineProtection = true
			m.Eliminated = false
			s.Protected = append(s.Protected, m)
			continue
		}
		fall(m)
	}

	for _, m := range modules {
		m.Status = statusOf(m)
	}

	if err := CheckInvariants(modules); err != nil {
		return nil, err
	}

	godline.Append(king, now)

	log.Info().
		Str("king_id", king.ID).
		Float64("score", king.Score).
		Int("king_rounds", king.KingRounds).
		Int("divine_rounds", king.DivineRounds).
		Str("divine_title", king.DivineTitle).
		Msg("King crowned")
	if s.Godslayer {
		log.Info().
			Str("godslayer_id", king.ID).
			Str("slain_god_id", king.SlainGodID).
			Msg("Godslayer has risen")
	}

	return s, nil
}

// fall strips divine status from a dethroned god.
func fall(m *Module) {
	m.IsDivine = false
	m.DivineTitle = ""
	m.HasDivineProtection = false
	m.WasGod = true
	m.Eliminated = true
}

func statusOf(m *Module) Status {
	switch {
	case m.IsKing:
		return StatusKing
	case m.IsDivine && !m.Eliminated:
		return StatusProtected
	case m.WasGod:
		return StatusFallen
	default:
		return StatusEliminated
	}
}

// CheckInvariants validates a ranked generation after succession:
// ranks form a strict order consistent with descending score, exactly one
// king survives, and only protected gods share divine status with the king.
func CheckInvariants(modules []*Module) error {
	if len(modules) == 0 {
		return ErrDegenerateGeneration
	}

	kings, survivors, protected, divine := 0, 0, 0, 0
	for i, m := range modules {
		if m.ScoreRank != i+1 {
			return fmt.Errorf("%w: module %s has rank %d at position %d", ErrInvariantViolation, m.ID, m.ScoreRank, i+1)
		}
		if i > 0 && m.Score > modules[i-1].Score {
			return fmt.Errorf("%w: rank %d outscores rank %d", ErrInvariantViolation, i+1, i)
		}
		if m.IsKing {
			kings++
		}
		if !m.Eliminated {
			survivors++
		}
		if m.IsDivine {
			divine++
			if !m.IsKing && m.KingRounds > 1 {
				protected++
			}
		}
	}

	if kings != 1 || !modules[0].IsKing || modules[0].Eliminated {
		return fmt.Errorf("%w: expected exactly one surviving king at rank 1, found %d kings", ErrInvariantViolation, kings)
	}
	if survivors != 1+protected {
		return fmt.Errorf("%w: %d survivors but only %d protected gods", ErrInvariantViolation, survivors, protected)
	}
	if divine > 1+protected {
		return fmt.Errorf("%w: %d divine modules with %d protected", ErrInvariantViolation, divine, protected)
	}
	return nil
}
