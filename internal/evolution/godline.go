package evolution

import (
	"slices"
	"time"
)

// MaxGodlineEntries is how many past kings the godline retains.
const MaxGodlineEntries = 20

// GodlineEntry is one crowned king as recorded in the lineage history.
type GodlineEntry struct {
	ID           string       `json:"id"`
	Symbol       string       `json:"symbol"`
	StrategyType StrategyType `json:"strategy_type"`
	Bloodline    []string     `json:"bloodline"`
	Score        float64      `json:"score"`
	KingRounds   int          `json:"king_rounds"`
	DivineRounds int          `json:"divine_rounds"`
	IsDivine     bool         `json:"is_divine"`
	Fallen       bool         `json:"fallen"`
	SlainGodID   string       `json:"slain_god_id,omitempty"`
	CrownedAt    time.Time    `json:"crowned_at"`
}

// Godline is the truncated, ordered history of past kings (oldest first).
type Godline struct {
	Entries []GodlineEntry `json:"entries"`
}

// NewGodline returns a godline holding the last MaxGodlineEntries of entries.
func NewGodline(entries []GodlineEntry) *Godline {
	g := &Godline{Entries: slices.Clone(entries)}
	g.truncate()
	return g
}

// Len returns the number of entries.
func (g *Godline) Len() int {
	return len(g.Entries)
}

// Last returns the most recent entry.
func (g *Godline) Last() (GodlineEntry, bool) {
	if len(g.Entries) == 0 {
		return GodlineEntry{}, false
	}
	return g.Entries[len(g.Entries)-1], true
}

// LastDivine returns the most recent entry if it still holds divine status.
func (g *Godline) LastDivine() (GodlineEntry, bool) {
	last, ok := g.Last()
	if !ok || !last.IsDivine || last.Fallen {
		return GodlineEntry{}, false
	}
	return last, true
}

// Revoke strips divine status from the latest entry with the given id.
func (g *Godline) Revoke(id string) bool {
	for i := len(g.Entries) - 1; i >= 0; i-- {
		if g.Entries[i].ID == id {
			g.Entries[i].IsDivine = false
			g.Entries[i].Fallen = true
			return true
		}
	}
	return false
}

// Append records a king and drops the oldest entries beyond the limit.
func (g *Godline) Append(king *Module, at time.Time) {
	g.Entries = append(g.Entries, GodlineEntry{
		ID:           king.ID,
		Symbol:       king.Symbol,
		StrategyType: king.StrategyType,
		Bloodline:    slices.Clone(king.Bloodline),
		Score:        king.Score,
		KingRounds:   king.KingRounds,
		DivineRounds: king.DivineRounds,
		IsDivine:     king.IsDivine,
		SlainGodID:   king.SlainGodID,
		CrownedAt:    at,
	})
	g.truncate()
}

func (g *Godline) truncate() {
	if n := len(g.Entries); n > MaxGodlineEntries {
		g.Entries = slices.Clone(g.Entries[n-MaxGodlineEntries:])
	}
}
