// Package resilience guards optional downstream sinks (event bus, cache)
// with circuit breakers so a failing dependency cannot stall a round.
package resilience

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/killcore/killcore/internal/metrics"
)

// ErrOpen is returned when a call is refused because the breaker is open
// or its half-open request quota is exhausted.
var ErrOpen = errors.New("circuit breaker open")

// Breaker thresholds per guarded dependency
const (
	// Event bus: a round publishes a handful of events, trip quickly.
	EventsMinRequests     = 3
	EventsFailureRatio    = 0.6
	EventsOpenTimeout     = 30 * time.Second
	EventsHalfOpenMaxReqs = 1
	EventsCountInterval   = time.Minute

	// Cache: faster recovery
	CacheMinRequests     = 5
	CacheFailureRatio    = 0.6
	CacheOpenTimeout     = 15 * time.Second
	CacheHalfOpenMaxReqs = 2
	CacheCountInterval   = 30 * time.Second
)

// Settings configures one breaker.
type Settings struct {
	MinRequests     uint32
	FailureRatio    float64
	OpenTimeout     time.Duration
	HalfOpenMaxReqs uint32
	CountInterval   time.Duration
}

// EventsSettings returns the default event bus thresholds.
func EventsSettings() Settings {
	return Settings{
		MinRequests:     EventsMinRequests,
		FailureRatio:    EventsFailureRatio,
		OpenTimeout:     EventsOpenTimeout,
		HalfOpenMaxReqs: EventsHalfOpenMaxReqs,
		CountInterval:   EventsCountInterval,
	}
}

// CacheSettings returns the default cache thresholds.
func CacheSettings() Settings {
	return Settings{
		MinRequests:     CacheMinRequests,
		FailureRatio:    CacheFailureRatio,
		OpenTimeout:     CacheOpenTimeout,
		HalfOpenMaxReqs: CacheHalfOpenMaxReqs,
		CountInterval:   CacheCountInterval,
	}
}

// Breaker is a named gobreaker circuit that reports its state to Prometheus.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker creates a breaker. Zero-valued settings fall back to the cache defaults.
func NewBreaker(name string, s Settings) *Breaker {
	def := CacheSettings()
	if s.MinRequests == 0 {
		s.MinRequests = def.MinRequests
	}
	if s.FailureRatio <= 0 {
		s.FailureRatio = def.FailureRatio
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = def.OpenTimeout
	}
	if s.HalfOpenMaxReqs == 0 {
		s.HalfOpenMaxReqs = def.HalfOpenMaxReqs
	}

	b := &Breaker{name: name}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.HalfOpenMaxReqs,
		Interval:    s.CountInterval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= s.MinRequests && failureRatio >= s.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
			if to == gobreaker.StateOpen {
				metrics.RecordCircuitBreakerTrip(name)
			}
			metrics.UpdateCircuitBreakerState(name, stateValue(to))
		},
	})
	metrics.UpdateCircuitBreakerState(name, stateValue(b.cb.State()))
	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Execute runs fn unless the breaker is open. Refusals wrap ErrOpen.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.RecordCircuitBreakerRejection(b.name)
		return fmt.Errorf("%w: %s", ErrOpen, b.name)
	}
	return err
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
