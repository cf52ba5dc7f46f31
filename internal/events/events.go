// Package events publishes tournament lifecycle events on NATS.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/killcore/killcore/internal/evolution"
)

// Type identifies a tournament event.
type Type string

const (
	TypeRoundCompleted Type = "round_completed"
	TypeKingCrowned    Type = "king_crowned"
	TypeGodslayer      Type = "godslayer"
	TypeGodFallen      Type = "god_fallen"
	TypeRoundFailed    Type = "round_failed"
)

// Event is the wire form of a tournament event.
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Type       Type              `json:"type"`
	RoundID    string            `json:"round_id"`
	ModuleID   string            `json:"module_id,omitempty"`
	Symbol     string            `json:"symbol,omitempty"`
	Score      float64           `json:"score,omitempty"`
	KingRounds int               `json:"king_rounds,omitempty"`
	SlainGodID string            `json:"slain_god_id,omitempty"`
	Error      string            `json:"error,omitempty"`
	Report     *evolution.Report `json:"report,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Publisher delivers events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(ctx context.Context, ev Event) error {
	return nil
}

// FromRound derives the events of a completed round, in publication order.
func FromRound(roundID string, s *evolution.Succession, report evolution.Report, at time.Time) []Event {
	out := make([]Event, 0, 4)
	if s != nil && s.King != nil {
		king := s.King
		out = append(out, Event{
			Type:       TypeKingCrowned,
			RoundID:    roundID,
			ModuleID:   king.ID,
			Symbol:     king.Symbol,
			Score:      king.Score,
			KingRounds: king.KingRounds,
			Timestamp:  at,
		})
		if s.Godslayer {
			out = append(out, Event{
				Type:       TypeGodslayer,
				RoundID:    roundID,
				ModuleID:   king.ID,
				Symbol:     king.Symbol,
				Score:      king.Score,
				SlainGodID: s.PreviousDivineID,
				Timestamp:  at,
			})

			fallen := Event{
				Type:      TypeGodFallen,
				RoundID:   roundID,
				ModuleID:  s.PreviousDivineID,
				Timestamp: at,
			}
			if d := s.Dethroned; d != nil {
				fallen.Symbol = d.Symbol
				fallen.Score = d.Score
				fallen.KingRounds = d.KingRounds
			}
			out = append(out, fallen)
		}
	}

	r := report
	out = append(out, Event{
		Type:      TypeRoundCompleted,
		RoundID:   roundID,
		ModuleID:  report.KingID,
		Score:     report.KingScore,
		Report:    &r,
		Timestamp: at,
	})
	return out
}

// RoundFailed builds the event announcing an aborted round.
func RoundFailed(roundID string, err error, at time.Time) Event {
	ev := Event{Type: TypeRoundFailed, RoundID: roundID, Timestamp: at}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// MultiPublisher fans each event out to every publisher in order. All
// publishers see the same event id; their errors are joined.
type MultiPublisher []Publisher

// Publish implements Publisher.
func (m MultiPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
