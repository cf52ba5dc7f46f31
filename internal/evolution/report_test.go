package evolution

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	king := scored("fallback_X1-r1-1", 40)
	king.IsKing = true
	king.IsDivine = true
	king.KingRounds = 1
	king.MutateStage = StageRoyal
	king.MutationStrength = 0.02
	king.Status = StatusKing

	protected := scored("vet-1", 20)
	protected.IsDivine = true
	protected.Status = StatusProtected
	protected.MutateStage = StageElite
	protected.Symbol = "ETHUSDT"

	loser := scored("l-1", 0)
	loser.Eliminated = true
	loser.Resurrected = true
	loser.Type = ClassExplosive
	loser.MutateStage = StageOrdinary
	loser.StrategyType = StrategyScalping
	loser.MutationStrength = 0.04

	r := Summarize("round-1", []*Module{king, protected, loser})

	assert.Equal(t, "round-1", r.RoundID)
	assert.Equal(t, 3, r.Total)
	assert.Equal(t, map[Stage]int{StageRoyal: 1, StageElite: 1, StageOrdinary: 1}, r.PerStage)
	assert.Equal(t, 2, r.PerStrategy[StrategyDualMA])
	assert.Equal(t, 2, r.PerSymbol["BTCUSDT"])
	assert.Equal(t, 0.02, r.MeanMutationStrength)
	assert.Equal(t, 20.0, r.MeanScore)
	assert.Equal(t, 2, r.DivineCount)
	assert.Equal(t, 1, r.ProtectedCount)
	assert.Equal(t, 1, r.ResurrectedCount)
	assert.Equal(t, 1, r.ExplosiveCount)
	assert.Equal(t, 1, r.EliminatedCount)
	assert.True(t, r.UsedFallback)
	assert.Equal(t, king.ID, r.KingID)
	assert.Equal(t, 40.0, r.KingScore)
	assert.Equal(t, 1, r.KingRounds)
}

func TestSummarize_Empty(t *testing.T) {
	r := Summarize("empty", nil)
	assert.Zero(t, r.Total)
	assert.Zero(t, r.MeanScore)
	assert.Empty(t, r.KingID)
}

func TestPartialWriteError(t *testing.T) {
	diskFull := errors.New("disk full")
	err := &PartialWriteError{
		RoundID: "r-1",
		Failures: map[string]error{
			"godline":   diskFull,
			"king_pool": errors.New("permission denied"),
		},
	}

	assert.Equal(t, []string{"godline", "king_pool"}, err.Artifacts())
	assert.Contains(t, err.Error(), "2 artifact(s) failed")
	assert.Contains(t, err.Error(), "godline: disk full")
	assert.ErrorIs(t, err, diskFull)

	var pw *PartialWriteError
	assert.True(t, errors.As(error(err), &pw))
}
