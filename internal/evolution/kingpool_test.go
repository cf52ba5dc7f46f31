package evolution

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyForMode(t *testing.T) {
	tests := []struct {
		name     string
		mode     string
		capacity int
		want     KingPoolPolicy
		wantErr  bool
	}{
		{name: "default is single", mode: "", want: SingleSlotPolicy()},
		{name: "single", mode: "single", capacity: 50, want: SingleSlotPolicy()},
		{name: "top default capacity", mode: "top", want: TopPolicy()},
		{name: "top custom capacity", mode: "top", capacity: 10, want: KingPoolPolicy{Capacity: 10, Admission: AdmissionThreshold}},
		{name: "unknown", mode: "fifo", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PolicyForMode(tt.mode, tt.capacity)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKingPool_SingleSlotReplaces(t *testing.T) {
	pool := NewKingPool(SingleSlotPolicy(), []*Module{scored("old", 99)})
	require.Equal(t, 1, pool.Len())

	assert.True(t, pool.Admit(scored("new", 10)))
	require.Equal(t, 1, pool.Len())
	assert.Equal(t, "new", pool.Kings()[0].ID)
}

func TestKingPool_ThresholdAdmission(t *testing.T) {
	pool := NewKingPool(KingPoolPolicy{Capacity: 3, Admission: AdmissionThreshold}, nil)

	assert.True(t, pool.Admit(scored("a", 50)))
	assert.True(t, pool.Admit(scored("b", 70)))
	assert.True(t, pool.Admit(scored("c", 60)))
	assert.Equal(t, 3, pool.Len())

	// Not better than the weakest: rejected.
	assert.False(t, pool.Admit(scored("d", 50)))
	assert.Equal(t, 3, pool.Len())

	assert.True(t, pool.Admit(scored("e", 65)))
	kings := pool.Kings()
	require.Len(t, kings, 3)
	assert.Equal(t, []string{"b", "e", "c"}, []string{kings[0].ID, kings[1].ID, kings[2].ID})
}

func TestKingPool_TrimsExisting(t *testing.T) {
	var existing []*Module
	for i := 0; i < 120; i++ {
		existing = append(existing, scored(fmt.Sprintf("k-%d", i), float64(i)))
	}

	pool := NewKingPool(TopPolicy(), existing)
	require.Equal(t, 100, pool.Len())
	assert.Equal(t, 119.0, pool.Kings()[0].Score)
	assert.Equal(t, 20.0, pool.Kings()[99].Score)
}

func TestKingPool_HoldsCopies(t *testing.T) {
	m := scored("k", 10)
	pool := NewKingPool(SingleSlotPolicy(), nil)
	pool.Admit(m)

	m.Score = 999
	assert.Equal(t, 10.0, pool.Kings()[0].Score)
}

func divineKing(id string, score float64) *Module {
	m := scored(id, score)
	m.IsKing = true
	m.IsDivine = true
	m.HasDivineProtection = true
	m.DivineTitle = "True God #1"
	m.Status = StatusKing
	return m
}

func TestKingPool_SettleKeepsOnlyReigningGod(t *testing.T) {
	pool := NewKingPool(KingPoolPolicy{Capacity: 5, Admission: AdmissionThreshold},
		[]*Module{divineKing("a", 90), divineKing("b", 80), scored("plain", 70)})
	require.True(t, pool.Admit(divineKing("c", 85)))

	demoted := pool.Settle("c")
	assert.ElementsMatch(t, []string{"a", "b"}, demoted)

	divine := 0
	for _, k := range pool.Kings() {
		if !k.IsDivine {
			continue
		}
		divine++
		assert.Equal(t, "c", k.ID)
	}
	assert.Equal(t, 1, divine)

	fallen := pool.Kings()[0]
	require.Equal(t, "a", fallen.ID)
	assert.True(t, fallen.WasGod)
	assert.False(t, fallen.HasDivineProtection)
	assert.Empty(t, fallen.DivineTitle)
	assert.Equal(t, StatusFallen, fallen.Status)
}

func TestSettleDivinity(t *testing.T) {
	tests := []struct {
		name    string
		divine  []string
		demoted []string
	}{
		{name: "no reigning god", divine: nil, demoted: []string{"a", "b"}},
		{name: "one reigning", divine: []string{"b"}, demoted: []string{"a"}},
		{name: "reigning plus protected", divine: []string{"a", "b"}, demoted: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kings := []*Module{divineKing("a", 2), divineKing("b", 1), nil, scored("c", 0)}
			assert.Equal(t, tt.demoted, SettleDivinity(kings, tt.divine...))
			assert.False(t, kings[3].WasGod)
		})
	}
}
