// Package evolution implements the king-of-the-hill tournament: population
// generation, fitness evaluation and succession of champion modules.
package evolution

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// SchemaVersion is the record schema written by this package.
const SchemaVersion = "2.0.0"

// FallbackPrefix marks modules descended from the synthesized seed.
const FallbackPrefix = "fallback_"

// StrategyType is one of the closed set of strategy variants a module can run.
type StrategyType string

const (
	StrategyDualMA        StrategyType = "A" // dual moving-average breakout
	StrategyRangeReversal StrategyType = "B" // range reversal
	StrategyScalping      StrategyType = "C" // stable scalping
)

// Label returns the human-readable name of the strategy variant.
func (s StrategyType) Label() string {
	switch s {
	case StrategyDualMA:
		return "dual moving-average breakout"
	case StrategyRangeReversal:
		return "range reversal"
	case StrategyScalping:
		return "stable scalping"
	default:
		return "unknown"
	}
}

// Valid reports whether s is a known strategy variant.
func (s StrategyType) Valid() bool {
	switch s {
	case StrategyDualMA, StrategyRangeReversal, StrategyScalping:
		return true
	}
	return false
}

// Stage identifies which ancestor tier produced a module.
type Stage string

const (
	StageOrdinary Stage = "L1"
	StageElite    Stage = "L2"
	StageRoyal    Stage = "L3"
)

// Status is the lifecycle state of a module within its round.
type Status string

const (
	StatusPending    Status = "pending"    // generated, not yet evaluated
	StatusScored     Status = "scored"     // evaluated, not yet ranked
	StatusKing       Status = "king"       // rank 1 of its round
	StatusProtected  Status = "protected"  // multi-round god exempt from elimination
	StatusFallen     Status = "fallen"     // dethroned god
	StatusEliminated Status = "eliminated" // lost the round
)

// Classification is the risk profile assigned by the evaluator.
type Classification string

const (
	ClassUnknown   Classification = "unknown"
	ClassExplosive Classification = "explosive"
	ClassStable    Classification = "stable"
)

// Parameters maps named numeric knobs to their values.
type Parameters map[string]float64

// Clone returns a copy of the parameter map.
func (p Parameters) Clone() Parameters {
	if p == nil {
		return nil
	}
	out := make(Parameters, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Keys returns the parameter names in sorted order.
func (p Parameters) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// DefaultIntegerKeys are knobs treated as integers by in-memory modules that
// declare no integer keys. Decoded records infer theirs from the parameter
// literals instead, see UnmarshalJSON.
var DefaultIntegerKeys = []string{"ma_fast", "ma_slow", "lookback", "trade_window", "window"}

// Module is one candidate strategy configuration in a generation.
type Module struct {
	// Identity
	ID        string   `json:"id"`
	ParentID  string   `json:"parent_id,omitempty"`
	Bloodline []string `json:"bloodline"`

	// Configuration
	Symbol       string       `json:"symbol"`
	StrategyType StrategyType `json:"strategy_type"`
	Parameters   Parameters   `json:"parameters"`
	IntegerKeys  []string     `json:"integer_params"`

	// Lineage metadata
	MutateGeneration    int     `json:"mutate_generation"`
	MutateStage         Stage   `json:"mutate_stage,omitempty"`
	MutateBoost         bool    `json:"mutate_boost"`
	MutationStrength    float64 `json:"mutation_strength"`
	Resurrected         bool    `json:"resurrected"`
	FromResurrection    bool    `json:"from_resurrection"`
	ResurrectionChance  float64 `json:"resurrection_chance"`
	VengeanceMode       bool    `json:"vengeance_mode"`
	AncestorGodID       string  `json:"ancestor_god_id,omitempty"`
	DivineCandidate     bool    `json:"divine_candidate,omitempty"`
	DivineScore         float64 `json:"divine_score,omitempty"`
	IsDivine            bool    `json:"is_divine"`
	DivineRounds        int     `json:"divine_rounds"`
	DivineTitle         string  `json:"divine_title,omitempty"`
	KingRounds          int     `json:"king_rounds"`
	HasDivineProtection bool    `json:"has_divine_protection"`
	WasGod              bool    `json:"was_god,omitempty"`
	IsGodslayer         bool    `json:"is_godslayer,omitempty"`
	SlainGodID          string  `json:"slain_god_id,omitempty"`

	// Simulated trade inputs
	VirtualCapital float64 `json:"virtual_capital"`
	EntryPrice     float64 `json:"entry_price"`
	ExitPrice      float64 `json:"exit_price"`
	SlippagePct    float64 `json:"slippage_pct"`
	TxFeePct       float64 `json:"tx_fee_pct"`
	EntryDelaySec  int     `json:"entry_delay_sec"`
	TradeSupplied  bool    `json:"trade_supplied,omitempty"` // trade inputs above are authoritative, zeros included
	Simulated      bool    `json:"simulated,omitempty"`      // risk metrics supplied by an upstream simulator

	// Evaluation outputs
	Evaluated         bool           `json:"evaluated"`
	ReturnPct         float64        `json:"return_pct"`
	AdjustedReturnPct float64        `json:"adjusted_return_pct"`
	Drawdown          float64        `json:"drawdown"`
	Sharpe            float64        `json:"sharpe"`
	WinRate           float64        `json:"win_rate"`
	TradeCount        int            `json:"trade_count"`
	NetProfit         float64        `json:"net_profit"`
	Score             float64        `json:"score"`
	ScoreRank         int            `json:"score_rank"`
	IsKing            bool           `json:"is_king"`
	Eliminated        bool           `json:"eliminated"`
	FailCount         int            `json:"fail_count"`
	FailReason        string         `json:"fail_reason"`
	Type              Classification `json:"type"`
	Status            Status         `json:"status"`
	VerifiedEnv       string         `json:"verified_env,omitempty"`

	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	SchemaVersion string    `json:"schema_version"`
}

// Clone returns a deep copy of m.
func (m *Module) Clone() *Module {
	if m == nil {
		return nil
	}
	c := *m
	c.Bloodline = slices.Clone(m.Bloodline)
	c.IntegerKeys = slices.Clone(m.IntegerKeys)
	c.Parameters = m.Parameters.Clone()
	return &c
}

// IsIntegerParam reports whether the named knob holds an integer value.
func (m *Module) IsIntegerParam(key string) bool {
	keys := m.IntegerKeys
	if keys == nil {
		keys = DefaultIntegerKeys
	}
	return slices.Contains(keys, key)
}

// ResolvedIntegerKeys lists, in sorted order, the parameters of m that hold
// integers. The result is never nil so it survives a JSON round trip.
func (m *Module) ResolvedIntegerKeys() []string {
	keys := []string{}
	for _, k := range m.Parameters.Keys() {
		if m.IsIntegerParam(k) {
			keys = append(keys, k)
		}
	}
	return keys
}

// UnmarshalJSON decodes a module record. A record without integer_params
// takes its integer knobs from the parameter literals: a number written
// without a fraction or exponent is an integer.
func (m *Module) UnmarshalJSON(data []byte) error {
	type record Module
	if err := json.Unmarshal(data, (*record)(m)); err != nil {
		return err
	}
	if m.IntegerKeys != nil {
		return nil
	}

	var literals struct {
		Parameters map[string]json.Number `json:"parameters"`
	}
	if err := json.Unmarshal(data, &literals); err != nil {
		return err
	}
	keys := []string{}
	for k, n := range literals.Parameters {
		if !strings.ContainsAny(n.String(), ".eE") {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	m.IntegerKeys = keys
	return nil
}

// IsFallback reports whether m is the synthesized seed or one of its descendants.
func (m *Module) IsFallback() bool {
	return strings.HasPrefix(m.ID, FallbackPrefix)
}

// IDPrefix returns the lineage prefix of the id (everything before the first '-').
func (m *Module) IDPrefix() string {
	prefix, _, _ := strings.Cut(m.ID, "-")
	return prefix
}

// AddFailReason appends a failure cause without discarding earlier ones.
func (m *Module) AddFailReason(reason string) {
	if reason == "" {
		return
	}
	if m.FailReason == "" {
		m.FailReason = reason
		return
	}
	m.FailReason += " | " + reason
}

// Validate checks the structural invariants of a single module.
func (m *Module) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("module id is required")
	}
	if m.Symbol == "" {
		return fmt.Errorf("module %s: symbol is required", m.ID)
	}
	if !m.StrategyType.Valid() {
		return fmt.Errorf("module %s: unknown strategy type %q", m.ID, m.StrategyType)
	}
	if len(m.Bloodline) != m.MutateGeneration {
		return fmt.Errorf("module %s: bloodline length %d does not match generation %d",
			m.ID, len(m.Bloodline), m.MutateGeneration)
	}
	return nil
}

// FallbackSeed returns the deterministic baseline module used when no
// ancestors are available.
func FallbackSeed() *Module {
	return &Module{
		ID:           FallbackPrefix + "X1",
		Symbol:       "BTCUSDT",
		StrategyType: StrategyDualMA,
		Parameters: Parameters{
			"ma_fast": 10,
			"ma_slow": 30,
			"sl_pct":  1.5,
			"tp_pct":  3.0,
		},
		IntegerKeys:   []string{"ma_fast", "ma_slow"},
		Bloodline:     []string{},
		Status:        StatusPending,
		Type:          ClassUnknown,
		SchemaVersion: SchemaVersion,
	}
}
