package metrics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/killcore/killcore/internal/evolution"
)

// LineageSource is the read side of the tournament state the updater polls.
type LineageSource interface {
	LoadKingPool(ctx context.Context) ([]*evolution.Module, error)
	LoadGodline(ctx context.Context) ([]evolution.GodlineEntry, error)
}

// Updater periodically refreshes lineage gauges from persisted state, for
// processes that observe rounds without running them.
type Updater struct {
	source   LineageSource
	pool     *pgxpool.Pool
	interval time.Duration
	stopCh   chan struct{}
}

// NewUpdater creates a new metrics updater
func NewUpdater(source LineageSource, interval time.Duration) *Updater {
	return &Updater{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// WithPool also reports connection pool statistics on every tick.
func (u *Updater) WithPool(pool *pgxpool.Pool) *Updater {
	u.pool = pool
	return u
}

// Start begins the metrics update loop
func (u *Updater) Start(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	u.update(ctx)

	for {
		select {
		case <-ticker.C:
			u.update(ctx)
		case <-u.stopCh:
			log.Info().Msg("Metrics updater stopped")
			return
		case <-ctx.Done():
			log.Info().Msg("Metrics updater context cancelled")
			return
		}
	}
}

// Stop stops the metrics updater
func (u *Updater) Stop() {
	close(u.stopCh)
}

func (u *Updater) update(ctx context.Context) {
	if u.source != nil {
		u.updateLineageMetrics(ctx)
	}
	if u.pool != nil {
		u.updateDatabaseMetrics()
	}
}

func (u *Updater) updateLineageMetrics(ctx context.Context) {
	kings, err := u.source.LoadKingPool(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load king pool for metrics")
		RecordError("load_king_pool", "metrics_updater")
		return
	}
	entries, err := u.source.LoadGodline(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load godline for metrics")
		RecordError("load_godline", "metrics_updater")
		return
	}

	UpdateLineage(len(kings), len(entries))
	if len(kings) > 0 {
		KingScore.Set(kings[0].Score)
		KingRounds.Set(float64(kings[0].KingRounds))
	}
}

func (u *Updater) updateDatabaseMetrics() {
	stat := u.pool.Stat()
	UpdateDatabaseConnections(stat.AcquiredConns(), stat.IdleConns())
}
