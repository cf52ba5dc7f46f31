// Package report renders human-readable briefings of the reigning king and
// of a round's aggregate statistics.
package report

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/killcore/killcore/internal/evolution"
)

// ErrNoKing is returned when there is no king to report on.
var ErrNoKing = errors.New("no king available")

// Remark thresholds
const (
	LowRiskDrawdown     = 1.5
	HighStabilitySharpe = 2.0
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	goodStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	remarkStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
)

// Lead returns the head of the king pool.
func Lead(kings []*evolution.Module) (*evolution.Module, error) {
	if len(kings) == 0 || kings[0] == nil {
		return nil, ErrNoKing
	}
	return kings[0], nil
}

// Remarks summarizes the king's notable traits.
func Remarks(king *evolution.Module) []string {
	var out []string
	if king.Drawdown < LowRiskDrawdown {
		out = append(out, "low risk")
	}
	if king.Sharpe > HighStabilitySharpe {
		out = append(out, "high stability")
	}
	if king.FromResurrection {
		out = append(out, "resurrection lineage")
	}
	if king.KingRounds > 1 {
		out = append(out, fmt.Sprintf("reigned %d rounds", king.KingRounds))
	}
	if len(out) == 0 {
		out = append(out, "no special tags")
	}
	return out
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

type row struct {
	label string
	value string
}

func table(rows []row) string {
	width := 0
	for _, r := range rows {
		if len(r.label) > width {
			width = len(r.label)
		}
	}
	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, labelStyle.Render(fmt.Sprintf("%-*s", width, r.label))+" : "+r.value)
	}
	return strings.Join(lines, "\n")
}

// RenderKing writes the battle briefing of the king.
func RenderKing(w io.Writer, king *evolution.Module) error {
	if king == nil {
		return ErrNoKing
	}

	returnStyle := goodStyle
	if king.ReturnPct < 0 {
		returnStyle = warnStyle
	}
	parent := king.ParentID
	if parent == "" {
		parent = "unknown"
	}

	stats := table([]row{
		{"King", king.ID},
		{"Symbol", king.Symbol},
		{"Strategy", fmt.Sprintf("%s (%s)", king.StrategyType, king.StrategyType.Label())},
		{"Score", fmt.Sprintf("%.2f", king.Score)},
		{"Return", returnStyle.Render(fmt.Sprintf("%+.1f%%", king.ReturnPct))},
		{"Max drawdown", percent(king.Drawdown)},
		{"Sharpe", fmt.Sprintf("%.2f", king.Sharpe)},
		{"Win rate", percent(king.WinRate)},
		{"Trades", fmt.Sprintf("%d", king.TradeCount)},
	})

	lineage := table([]row{
		{"Resurrected", yesNo(king.FromResurrection)},
		{"Parent", fmt.Sprintf("%s (generation %d)", parent, king.MutateGeneration)},
		{"Divine protection", yesNo(king.HasDivineProtection)},
		{"Reign", fmt.Sprintf("%d round(s)", max(king.KingRounds, 1))},
		{"Title", orDash(king.DivineTitle)},
	})

	params := make([]row, 0, len(king.Parameters))
	for _, k := range king.Parameters.Keys() {
		params = append(params, row{"  " + k, formatParam(king.Parameters[k])})
	}

	times := table([]row{
		{"Created", timestamp(king.CreatedAt)},
		{"Updated", timestamp(king.UpdatedAt)},
	})

	sections := []string{
		titleStyle.Render("Killcore king briefing"),
		stats,
		"",
		lineage,
		"",
		labelStyle.Render("Parameters"),
	}
	if len(params) > 0 {
		sections = append(sections, table(params))
	} else {
		sections = append(sections, "  -")
	}
	sections = append(sections,
		"",
		times,
		"",
		remarkStyle.Render("> "+strings.Join(Remarks(king), ", ")),
	)

	_, err := fmt.Fprintln(w, panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, sections...)))
	return err
}

// RenderReport writes the aggregate statistics of a round.
func RenderReport(w io.Writer, r evolution.Report) error {
	rows := []row{
		{"Round", r.RoundID},
		{"Modules", fmt.Sprintf("%d", r.Total)},
		{"Stages", fmt.Sprintf("L1 %d / L2 %d / L3 %d",
			r.PerStage[evolution.StageOrdinary], r.PerStage[evolution.StageElite], r.PerStage[evolution.StageRoyal])},
		{"Strategies", countsLine(r.PerStrategy)},
		{"Symbols", symbolsLine(r.PerSymbol)},
		{"Mean score", fmt.Sprintf("%.2f", r.MeanScore)},
		{"Mean mutation", fmt.Sprintf("%.4f", r.MeanMutationStrength)},
		{"Resurrected", fmt.Sprintf("%d", r.ResurrectedCount)},
		{"Explosive", fmt.Sprintf("%d", r.ExplosiveCount)},
		{"Eliminated", fmt.Sprintf("%d", r.EliminatedCount)},
		{"Divine", fmt.Sprintf("%d (protected %d)", r.DivineCount, r.ProtectedCount)},
		{"King", fmt.Sprintf("%s (%.2f, %d round(s))", orDash(r.KingID), r.KingScore, r.KingRounds)},
	}
	if r.SlainGodID != "" {
		rows = append(rows, row{"Godslayer", warnStyle.Render("slew " + r.SlainGodID)})
	}
	if r.UsedFallback {
		rows = append(rows, row{"Seed", warnStyle.Render("fallback")})
	}

	body := lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render("Round summary"), table(rows))
	_, err := fmt.Fprintln(w, panelStyle.Render(body))
	return err
}

func countsLine(counts map[evolution.StrategyType]int) string {
	parts := make([]string, 0, len(counts))
	for _, st := range []evolution.StrategyType{evolution.StrategyDualMA, evolution.StrategyRangeReversal, evolution.StrategyScalping} {
		if n := counts[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", st, n))
		}
	}
	return orDash(strings.Join(parts, " / "))
}

func symbolsLine(counts map[string]int) string {
	symbols := make([]string, 0, len(counts))
	for s := range counts {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	parts := make([]string, 0, len(symbols))
	for _, s := range symbols {
		parts = append(parts, fmt.Sprintf("%s %d", s, counts[s]))
	}
	return orDash(strings.Join(parts, " / "))
}

func formatParam(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
