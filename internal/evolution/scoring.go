package evolution

// Failure causes recorded in Module.FailReason.
const (
	ReasonHeavyLoss        = "heavy loss"
	ReasonWeakRiskControl  = "insufficient risk control"
	ReasonNegativeReturn   = "negative adjusted return"
	ReasonTooManyRetries   = "too many retries"
	ReasonIncompleteResult = "incomplete evaluation"
)

// ScoringPolicy holds the fixed fitness weights and classification limits.
type ScoringPolicy struct {
	ReturnWeight      float64 `json:"return_weight"`
	SharpeWeight      float64 `json:"sharpe_weight"`
	WinRateWeight     float64 `json:"win_rate_weight"`
	DrawdownWeight    float64 `json:"drawdown_weight"`
	ExplosiveDrawdown float64 `json:"explosive_drawdown"`
	HeavyLossFloor    float64 `json:"heavy_loss_floor"`
	LowSharpe         float64 `json:"low_sharpe"`
	RetryLimit        int     `json:"retry_limit"`
	RetryPenalty      float64 `json:"retry_penalty"`
}

// DefaultScoringPolicy returns the canonical coefficients:
// score = adjusted_return_pct*0.5 + sharpe*10 + win_rate*0.3 - drawdown*5.
func DefaultScoringPolicy() ScoringPolicy {
	return ScoringPolicy{
		ReturnWeight:      0.5,
		SharpeWeight:      10,
		WinRateWeight:     0.3,
		DrawdownWeight:    5,
		ExplosiveDrawdown: 25,
		HeavyLossFloor:    -100,
		LowSharpe:         0.5,
		RetryLimit:        2,
		RetryPenalty:      5,
	}
}

// Score computes the composite fitness, rounded to 2 decimal places.
func (p ScoringPolicy) Score(m *Module) float64 {
	raw := m.AdjustedReturnPct*p.ReturnWeight +
		m.Sharpe*p.SharpeWeight +
		m.WinRate*p.WinRateWeight -
		m.Drawdown*p.DrawdownWeight
	return roundTo(raw, 2)
}

// Classify tags the module's risk profile and accumulates failure reasons.
// Modules over the retry limit lose RetryPenalty points.
func (p ScoringPolicy) Classify(m *Module) {
	switch {
	case m.Drawdown > p.ExplosiveDrawdown || m.NetProfit < p.HeavyLossFloor:
		m.Type = ClassExplosive
		m.AddFailReason(ReasonHeavyLoss)
	case m.Sharpe < p.LowSharpe:
		m.AddFailReason(ReasonWeakRiskControl)
	case m.AdjustedReturnPct < 0:
		m.AddFailReason(ReasonNegativeReturn)
	default:
		m.Type = ClassStable
	}

	if m.FailCount > p.RetryLimit {
		m.Score = roundTo(m.Score-p.RetryPenalty, 2)
		m.AddFailReason(ReasonTooManyRetries)
	}
}

// Apply writes an outcome onto the module, scores and classifies it.
func (p ScoringPolicy) Apply(m *Module, o Outcome) {
	m.EntryPrice = o.EntryPrice
	m.ExitPrice = o.ExitPrice
	m.SlippagePct = o.SlippagePct
	m.TxFeePct = o.TxFeePct
	m.EntryDelaySec = o.EntryDelaySec
	m.NetProfit = o.Trade.NetProfit
	m.AdjustedReturnPct = o.Trade.AdjustedReturnPct
	m.ReturnPct = o.ReturnPct
	m.Sharpe = o.Sharpe
	m.WinRate = o.WinRate
	m.Drawdown = o.Drawdown
	m.TradeCount = o.TradeCount
	m.Type = ClassUnknown
	m.FailReason = ""

	m.Score = p.Score(m)
	p.Classify(m)

	m.Evaluated = true
	m.Status = StatusScored
}
