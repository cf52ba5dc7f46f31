package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/killcore/killcore/internal/metrics"
	"github.com/killcore/killcore/internal/resilience"
)

// DefaultPrefix namespaces tournament subjects: killcore.events.<type>.
const DefaultPrefix = "killcore.events."

// Config configures the NATS publisher
type Config struct {
	URL     string
	Prefix  string
	Breaker *resilience.Breaker
}

// NATSPublisher publishes events as JSON on NATS subjects.
type NATSPublisher struct {
	nc      *nats.Conn
	prefix  string
	breaker *resilience.Breaker
}

// Handler is a callback for received events
type Handler func(ev *Event) error

// NewNATSPublisher connects to NATS and returns a publisher.
func NewNATSPublisher(cfg Config) (*NATSPublisher, error) {
	nc, err := nats.Connect(
		cfg.URL,
		nats.Name("killcore-tournament"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}

	log.Info().
		Str("nats_url", cfg.URL).
		Str("prefix", cfg.Prefix).
		Msg("Event publisher initialized")

	return &NATSPublisher{nc: nc, prefix: cfg.Prefix, breaker: cfg.Breaker}, nil
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(t Type) string {
	return p.prefix + string(t)
}

// Publish sends one event. Publishing is fire-and-forget; Flush waits for
// the server to acknowledge buffered events.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := p.Subject(ev.Type)
	publish := func() error {
		if !p.nc.IsConnected() {
			return fmt.Errorf("event bus not connected")
		}
		return p.nc.Publish(subject, data)
	}
	if p.breaker != nil {
		err = p.breaker.Execute(publish)
	} else {
		err = publish()
	}
	metrics.RecordEventPublished(string(ev.Type), err == nil)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", ev.Type, err)
	}

	log.Debug().
		Str("event_id", ev.ID.String()).
		Str("type", string(ev.Type)).
		Str("round_id", ev.RoundID).
		Str("subject", subject).
		Msg("Published event")
	return nil
}

// Flush waits until buffered events reach the server.
func (p *NATSPublisher) Flush(ctx context.Context) error {
	return p.nc.FlushWithContext(ctx)
}

// Subscribe delivers events of type t (or every type when t is empty).
func (p *NATSPublisher) Subscribe(t Type, handler Handler) (*nats.Subscription, error) {
	subject := p.prefix + ">"
	if t != "" {
		subject = p.Subject(t)
	}

	sub, err := p.nc.Subscribe(subject, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal event")
			return
		}
		if err := handler(&ev); err != nil {
			log.Error().
				Err(err).
				Str("event_id", ev.ID.String()).
				Str("type", string(ev.Type)).
				Msg("Event handler error")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	log.Info().Str("subject", subject).Msg("Subscribed to events")
	return sub, nil
}

// Close drains and closes the connection
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}
