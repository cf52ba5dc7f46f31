package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/killcore/killcore/internal/evolution"
)

type stubLineage struct {
	kings   []*evolution.Module
	entries []evolution.GodlineEntry
	err     error
}

func (s *stubLineage) LoadKingPool(ctx context.Context) ([]*evolution.Module, error) {
	return s.kings, s.err
}

func (s *stubLineage) LoadGodline(ctx context.Context) ([]evolution.GodlineEntry, error) {
	return s.entries, s.err
}

func TestNewUpdater(t *testing.T) {
	interval := 10 * time.Second
	updater := NewUpdater(nil, interval)

	assert.NotNil(t, updater)
	assert.Equal(t, interval, updater.interval)
	assert.NotNil(t, updater.stopCh)
	assert.Nil(t, updater.pool)
}

func TestUpdater_Stop(t *testing.T) {
	updater := NewUpdater(nil, time.Second)

	assert.NotPanics(t, func() {
		updater.Stop()
	})

	_, ok := <-updater.stopCh
	assert.False(t, ok, "stopCh should be closed")
}

func TestUpdater_UpdateLineage(t *testing.T) {
	source := &stubLineage{
		kings: []*evolution.Module{
			{ID: "b-7", Score: 91.5, KingRounds: 3},
			{ID: "a-12", Score: 80},
		},
		entries: []evolution.GodlineEntry{{ID: "a-12"}, {ID: "b-7"}, {ID: "b-7"}},
	}

	NewUpdater(source, time.Second).update(context.Background())

	assert.Equal(t, 2.0, testutil.ToFloat64(KingPoolSize))
	assert.Equal(t, 3.0, testutil.ToFloat64(GodlineLength))
	assert.Equal(t, 91.5, testutil.ToFloat64(KingScore))
	assert.Equal(t, 3.0, testutil.ToFloat64(KingRounds))
}

func TestUpdater_SourceError(t *testing.T) {
	before := testutil.ToFloat64(Errors.WithLabelValues("load_king_pool", "metrics_updater"))

	NewUpdater(&stubLineage{err: errors.New("disk gone")}, time.Second).update(context.Background())

	after := testutil.ToFloat64(Errors.WithLabelValues("load_king_pool", "metrics_updater"))
	assert.Equal(t, before+1, after)
}

func TestUpdater_Start_StopAndCancel(t *testing.T) {
	source := &stubLineage{}

	updater := NewUpdater(source, 20*time.Millisecond)
	done := make(chan struct{})
	go func() {
		updater.Start(context.Background())
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	updater.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Updater did not stop in time")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done = make(chan struct{})
	go func() {
		NewUpdater(source, 20*time.Millisecond).Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Updater did not stop when context was cancelled")
	}
}
