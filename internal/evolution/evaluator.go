package evolution

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ============================================================================
// TRADE ECONOMICS
// ============================================================================

// TradeResult is the slippage- and fee-adjusted outcome of one round trip.
type TradeResult struct {
	EntryAdj          float64 `json:"entry_adj"`
	ExitAdj           float64 `json:"exit_adj"`
	GrossProfit       float64 `json:"gross_profit"`
	Fees              float64 `json:"fees"`
	NetProfit         float64 `json:"net_profit"`
	AdjustedReturnPct float64 `json:"adjusted_return_pct"`
}

// TradeEconomics applies slippage to both legs, charges the fee on both
// adjusted legs and derives the net return. A zero adjusted entry price
// yields a zero return instead of a division fault.
func TradeEconomics(entry, exit, slippagePct, feePct float64) TradeResult {
	entryAdj := entry * (1 + slippagePct)
	exitAdj := exit * (1 - slippagePct)
	gross := exitAdj - entryAdj
	fees := (entryAdj + exitAdj) * feePct
	net := gross - fees

	var ret float64
	if entryAdj != 0 {
		ret = roundTo(net/entryAdj*100, 2)
	}

	return TradeResult{
		EntryAdj:          entryAdj,
		ExitAdj:           exitAdj,
		GrossProfit:       gross,
		Fees:              fees,
		NetProfit:         roundTo(net, 2),
		AdjustedReturnPct: ret,
	}
}

// ============================================================================
// EVALUATOR
// ============================================================================

// Outcome is everything an evaluator produces for one module.
type Outcome struct {
	EntryPrice    float64
	ExitPrice     float64
	SlippagePct   float64
	TxFeePct      float64
	EntryDelaySec int
	Trade         TradeResult
	ReturnPct     float64
	Sharpe        float64
	WinRate       float64
	Drawdown      float64
	TradeCount    int
}

// Evaluator produces a simulated trade outcome for a module. Implementations
// must not modify the module.
type Evaluator interface {
	Evaluate(ctx context.Context, m *Module) (Outcome, error)
}

// Range is a closed interval used for synthetic draws.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r Range) draw(rng *rand.Rand) float64 {
	return r.Min + rng.Float64()*(r.Max-r.Min)
}

// StrategyRanges are the synthetic risk-metric domains for one strategy type.
type StrategyRanges struct {
	Sharpe     Range `json:"sharpe"`
	WinRate    Range `json:"win_rate"`
	Drawdown   Range `json:"drawdown"`
	TradeCount Range `json:"trade_count"`
}

// DefaultStrategyRanges returns per-strategy synthetic metric domains.
func DefaultStrategyRanges() map[StrategyType]StrategyRanges {
	return map[StrategyType]StrategyRanges{
		StrategyDualMA: {
			Sharpe:     Range{0.2, 3.0},
			WinRate:    Range{35, 75},
			Drawdown:   Range{0.5, 30},
			TradeCount: Range{5, 40},
		},
		StrategyRangeReversal: {
			Sharpe:     Range{0.0, 2.5},
			WinRate:    Range{40, 80},
			Drawdown:   Range{0.5, 20},
			TradeCount: Range{8, 60},
		},
		StrategyScalping: {
			Sharpe:     Range{0.5, 2.2},
			WinRate:    Range{50, 85},
			Drawdown:   Range{0.2, 12},
			TradeCount: Range{20, 120},
		},
	}
}

// SyntheticEvaluator stands in for a backtest engine by drawing trade
// metrics from fixed per-strategy ranges. Each module gets its own rng seeded
// from (seed, module id), so results do not depend on evaluation order.
type SyntheticEvaluator struct {
	seed      int64
	basePrice float64
	feePct    float64
	slippage  Range
	ranges    map[StrategyType]StrategyRanges
}

// NewSyntheticEvaluator creates a synthetic evaluator. A zero seed selects a time-based seed.
func NewSyntheticEvaluator(seed int64) *SyntheticEvaluator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SyntheticEvaluator{
		seed:      seed,
		basePrice: 1000.0,
		feePct:    0.001,
		slippage:  Range{-0.003, 0.003},
		ranges:    DefaultStrategyRanges(),
	}
}

// WithRanges overrides the synthetic metric domain for one strategy type.
func (e *SyntheticEvaluator) WithRanges(st StrategyType, r StrategyRanges) *SyntheticEvaluator {
	e.ranges[st] = r
	return e
}

// Evaluate draws an outcome for m. Trade inputs marked as supplied and risk
// metrics from an upstream simulator are kept as given.
func (e *SyntheticEvaluator) Evaluate(ctx context.Context, m *Module) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	ranges, ok := e.ranges[m.StrategyType]
	if !ok {
		return Outcome{}, fmt.Errorf("no synthetic ranges for strategy type %q", m.StrategyType)
	}

	rng := rand.New(rand.NewSource(e.seed ^ int64(xxhash.Sum64String(m.ID)))) // #nosec G404 -- deterministic simulation

	var o Outcome
	if m.TradeSupplied {
		o.EntryPrice = m.EntryPrice
		o.ExitPrice = m.ExitPrice
		o.SlippagePct = m.SlippagePct
		o.TxFeePct = m.TxFeePct
		o.EntryDelaySec = m.EntryDelaySec
	} else {
		o.EntryPrice = e.basePrice
		// Price move bounded by the module's own stop-loss / take-profit knobs.
		move := Range{-2, 4}
		if sl, ok := m.Parameters["sl_pct"]; ok && sl > 0 {
			move.Min = -sl
		}
		if tp, ok := m.Parameters["tp_pct"]; ok && tp > 0 {
			move.Max = tp
		}
		o.ExitPrice = roundTo(o.EntryPrice*(1+move.draw(rng)/100), 4)
		o.SlippagePct = roundTo(e.slippage.draw(rng), 4)
		o.TxFeePct = e.feePct
		o.EntryDelaySec = 1 + rng.Intn(3)
	}

	o.Trade = TradeEconomics(o.EntryPrice, o.ExitPrice, o.SlippagePct, o.TxFeePct)

	if m.Simulated {
		o.ReturnPct = m.ReturnPct
		o.Sharpe = m.Sharpe
		o.WinRate = m.WinRate
		o.Drawdown = m.Drawdown
		o.TradeCount = m.TradeCount
		return o, nil
	}

	o.ReturnPct = o.Trade.AdjustedReturnPct
	o.Sharpe = roundTo(ranges.Sharpe.draw(rng), 2)
	o.WinRate = roundTo(ranges.WinRate.draw(rng), 1)
	o.Drawdown = roundTo(ranges.Drawdown.draw(rng), 2)
	o.TradeCount = int(ranges.TradeCount.draw(rng))

	return o, nil
}

// EvaluateGeneration evaluates and scores every module concurrently, bounded
// by parallelism, and returns once all evaluations have finished.
func EvaluateGeneration(ctx context.Context, ev Evaluator, policy ScoringPolicy, modules []*Module, parallelism int) error {
	start := time.Now()
	if parallelism <= 0 {
		parallelism = 4
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for _, m := range modules {
		g.Go(func() error {
			o, err := ev.Evaluate(gctx, m)
			if err != nil {
				return fmt.Errorf("failed to evaluate module %s: %w", m.ID, err)
			}
			policy.Apply(m, o)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().
		Int("modules", len(modules)).
		Int("parallelism", parallelism).
		Dur("duration", time.Since(start)).
		Msg("Generation evaluated")

	return nil
}
