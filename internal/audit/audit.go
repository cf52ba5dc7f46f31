// Package audit keeps an append-only ledger of tournament events in
// PostgreSQL so the lineage can be reconstructed after the fact.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/killcore/killcore/internal/events"
	"github.com/killcore/killcore/internal/metrics"
)

// Severity represents the severity level of a ledger entry
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// DefaultQueryLimit caps Query when no limit is given.
const DefaultQueryLimit = 100

// SeverityOf grades an event type. A fallen god is the most notable thing
// that can happen to the lineage short of a failed round.
func SeverityOf(t events.Type) Severity {
	switch t {
	case events.TypeRoundFailed:
		return SeverityError
	case events.TypeGodslayer, events.TypeGodFallen:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Pool is the subset of pgxpool.Pool the ledger uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Entry is one persisted event
type Entry struct {
	events.Event
	Severity Severity `json:"severity"`
}

// Filters narrows a ledger query. Zero values match everything.
type Filters struct {
	Type     events.Type
	RoundID  string
	ModuleID string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// Ledger records tournament events. It implements events.Publisher so it
// can sit next to the NATS publisher.
type Ledger struct {
	db  Pool
	now func() time.Time
}

// NewLedger creates a ledger on db. A nil db only logs.
func NewLedger(db Pool) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Publish records an event
func (l *Ledger) Publish(ctx context.Context, ev events.Event) error {
	start := time.Now()

	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now().UTC()
	}
	severity := SeverityOf(ev.Type)

	logEvent := log.With().
		Str("event_id", ev.ID.String()).
		Str("event_type", string(ev.Type)).
		Str("round_id", ev.RoundID).
		Str("module_id", ev.ModuleID).
		Logger()
	switch severity {
	case SeverityCritical, SeverityError:
		logEvent.Error().Str("error", ev.Error).Msg("Ledger event")
	case SeverityWarning:
		logEvent.Warn().Str("slain_god_id", ev.SlainGodID).Msg("Ledger event")
	default:
		logEvent.Debug().Msg("Ledger event")
	}

	if l.db == nil {
		return nil
	}

	if err := l.persist(ctx, ev, severity); err != nil {
		metrics.RecordLedgerWrite(string(ev.Type), false, float64(time.Since(start).Milliseconds()))
		return err
	}
	metrics.RecordLedgerWrite(string(ev.Type), true, float64(time.Since(start).Milliseconds()))
	return nil
}

// persist stores the event in lineage_events
func (l *Ledger) persist(ctx context.Context, ev events.Event, severity Severity) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger event: %w", err)
	}

	query := `
		INSERT INTO lineage_events (
			id, occurred_at, event_type, severity, round_id, module_id,
			symbol, score, slain_god_id, error_message, payload
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err = l.db.Exec(ctx, query,
		ev.ID,
		ev.Timestamp,
		string(ev.Type),
		string(severity),
		ev.RoundID,
		ev.ModuleID,
		ev.Symbol,
		ev.Score,
		ev.SlainGodID,
		ev.Error,
		payload,
	)
	if err != nil {
		log.Error().Err(err).
			Str("event_id", ev.ID.String()).
			Str("event_type", string(ev.Type)).
			Msg("Failed to persist ledger event")
		return fmt.Errorf("failed to persist ledger event: %w", err)
	}
	return nil
}

// Query returns ledger entries, newest first
func (l *Ledger) Query(ctx context.Context, f Filters) ([]Entry, error) {
	if l.db == nil {
		return nil, nil
	}

	query := `
		SELECT severity, payload
		FROM lineage_events
		WHERE 1=1
	`
	var args []interface{}
	arg := func(clause string, v interface{}) {
		args = append(args, v)
		query += fmt.Sprintf(" AND %s $%d", clause, len(args))
	}

	if f.Type != "" {
		arg("event_type =", string(f.Type))
	}
	if f.RoundID != "" {
		arg("round_id =", f.RoundID)
	}
	if f.ModuleID != "" {
		arg("module_id =", f.ModuleID)
	}
	if !f.Since.IsZero() {
		arg("occurred_at >=", f.Since)
	}
	if !f.Until.IsZero() {
		arg("occurred_at <=", f.Until)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY occurred_at DESC LIMIT $%d", len(args))

	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			severity string
			payload  []byte
		)
		if err := rows.Scan(&severity, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}

		entry := Entry{Severity: Severity(severity)}
		if err := json.Unmarshal(payload, &entry.Event); err != nil {
			log.Warn().Err(err).Msg("Skipping unreadable ledger entry")
			continue
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
