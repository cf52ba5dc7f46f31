package metrics

import (
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/killcore/killcore/internal/evolution"
)

// Bounded cardinality constants for metric labels.
const (
	// Round outcomes
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"

	// Persisted artifacts
	ArtifactResult          = "result"
	ArtifactArchive         = "archive"
	ArtifactKingPool        = "king_pool"
	ArtifactGodline         = "godline"
	ArtifactModules         = "modules"
	ArtifactSelectedSymbols = "selected_symbols"
	ArtifactOther           = "other"

	// Round failure categories
	FailureDegenerate = "degenerate_generation"
	FailureIncomplete = "incomplete_module"
	FailureInvariant  = "invariant_violation"
	FailureCanceled   = "canceled"
	FailureOther      = "other"
)

var knownArtifacts = map[string]struct{}{
	ArtifactResult:          {},
	ArtifactArchive:         {},
	ArtifactKingPool:        {},
	ArtifactGodline:         {},
	ArtifactModules:         {},
	ArtifactSelectedSymbols: {},
}

// NormalizeArtifact maps an artifact name to the bounded label set
func NormalizeArtifact(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if _, ok := knownArtifacts[name]; ok {
		return name
	}
	return ArtifactOther
}

// NormalizeRoundFailure maps a round error to the bounded label set
func NormalizeRoundFailure(err error) string {
	switch {
	case err == nil:
		return FailureOther
	case errors.Is(err, evolution.ErrDegenerateGeneration):
		return FailureDegenerate
	case errors.Is(err, evolution.ErrIncompleteModule):
		return FailureIncomplete
	case errors.Is(err, evolution.ErrInvariantViolation):
		return FailureInvariant
	case strings.Contains(strings.ToLower(err.Error()), "context canceled"),
		strings.Contains(strings.ToLower(err.Error()), "deadline exceeded"):
		return FailureCanceled
	default:
		return FailureOther
	}
}

var (
	// Round metrics
	RoundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "killcore_rounds_total",
		Help: "Total tournament rounds by outcome",
	}, []string{"outcome"})

	RoundFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "killcore_round_failures_total",
		Help: "Rounds aborted before persistence, by failure category",
	}, []string{"reason"})

	RoundDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "killcore_round_duration_seconds",
		Help:    "Wall time of a full round",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "killcore_evaluation_duration_seconds",
		Help:    "Wall time of evaluating one generation",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	FallbackRounds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "killcore_fallback_rounds_total",
		Help: "Rounds seeded from the fallback module",
	})

	// Generation metrics
	GenerationSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "killcore_generation_size",
		Help: "Number of modules in the latest generation",
	})

	ModulesByStage = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "killcore_generation_modules_by_stage",
		Help: "Modules in the latest generation by ancestor stage",
	}, []string{"stage"})

	ModulesByStrategy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "killcore_generation_modules_by_strategy",
		Help: "Modules in the latest generation by strategy type",
	}, []string{"strategy"})

	MeanScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "killcore_generation_mean_score",
		Help: "Mean score of the latest generation",
	})

	MeanMutationStrength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "killcore_generation_mean_mutation_strength",
		Help: "Mean mutation strength of the latest generation",
	})

	DivineModules = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "killcore_divine_modules",
		Help: "Divine modules in the latest generation",
	})

	ProtectedModules = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "killcore_protected_modules",
		Help: "Modules exempted from elimination by divine protection",
	})

	ResurrectedModules = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "killcore_resurrected_modules",
		Help: "Modules descended from resurrected ancestors",
	})

	ExplosiveModules = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "killcore_explosive_modules",
		Help: "Modules classified as explosive in the latest generation",
	})

	EliminatedModules = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "killcore_eliminated_modules",
		Help: "Modules eliminated in the latest generation",
	})

	// Succession metrics
	KingScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "killcore_king_score",
		Help: "Score of the reigning king",
	})

	KingRounds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "killcore_king_rounds",
		Help: "Rounds the reigning king has held the crown",
	})

	GodslayerEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "killcore_godslayer_events_total",
		Help: "Rounds where a new king displaced a god",
	})

	KingPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "killcore_king_pool_size",
		Help: "Modules held in the king pool",
	})

	GodlineLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "killcore_godline_length",
		Help: "Entries retained in the godline",
	})

	// Persistence metrics
	ArtifactWriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "killcore_artifact_write_failures_total",
		Help: "Failed artifact writes by artifact",
	}, []string{"artifact"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "killcore_database_connections_active",
		Help: "Number of acquired database connections",
	})

	DatabaseConnectionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "killcore_database_connections_idle",
		Help: "Number of idle database connections",
	})

	// Event bus metrics
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "killcore_events_published_total",
		Help: "Tournament events published by type and status",
	}, []string{"event", "status"})

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "killcore_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})

	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "killcore_circuit_breaker_trips_total",
		Help: "Times a circuit breaker opened",
	}, []string{"name"})

	CircuitBreakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "killcore_circuit_breaker_rejections_total",
		Help: "Calls rejected by an open circuit breaker",
	}, []string{"name"})

	// Cache metrics
	RedisOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "killcore_redis_operations_total",
		Help: "Total Redis operations",
	}, []string{"operation"})

	RedisCacheHitRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "killcore_redis_cache_hit_rate",
		Help: "Redis cache hit rate (0-1)",
	})

	// API metrics
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "killcore_api_request_duration_ms",
		Help:    "API request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"method", "path", "status"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "killcore_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// Ledger metrics
	LedgerWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "killcore_ledger_writes_total",
		Help: "Lineage ledger writes by event type and status",
	}, []string{"event", "status"})

	LedgerWriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "killcore_ledger_write_duration_ms",
		Help:    "Lineage ledger write duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})

	// Error metrics
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "killcore_errors_total",
		Help: "Total errors by type and component",
	}, []string{"error_type", "component"})
)

// RecordRound publishes the statistics of a completed round
func RecordRound(report evolution.Report, outcome string, duration time.Duration) {
	RoundsTotal.WithLabelValues(outcome).Inc()
	RoundDuration.Observe(duration.Seconds())

	GenerationSize.Set(float64(report.Total))
	for _, stage := range []evolution.Stage{evolution.StageOrdinary, evolution.StageElite, evolution.StageRoyal} {
		ModulesByStage.WithLabelValues(string(stage)).Set(float64(report.PerStage[stage]))
	}
	for _, st := range []evolution.StrategyType{evolution.StrategyDualMA, evolution.StrategyRangeReversal, evolution.StrategyScalping} {
		ModulesByStrategy.WithLabelValues(string(st)).Set(float64(report.PerStrategy[st]))
	}
	MeanScore.Set(report.MeanScore)
	MeanMutationStrength.Set(report.MeanMutationStrength)
	DivineModules.Set(float64(report.DivineCount))
	ProtectedModules.Set(float64(report.ProtectedCount))
	ResurrectedModules.Set(float64(report.ResurrectedCount))
	ExplosiveModules.Set(float64(report.ExplosiveCount))
	EliminatedModules.Set(float64(report.EliminatedCount))
	KingScore.Set(report.KingScore)
	KingRounds.Set(float64(report.KingRounds))

	if report.SlainGodID != "" {
		GodslayerEvents.Inc()
	}
	if report.UsedFallback {
		FallbackRounds.Inc()
	}
}

// RecordRoundFailure records a round that aborted before persistence
func RecordRoundFailure(err error) {
	RoundsTotal.WithLabelValues(OutcomeFailed).Inc()
	RoundFailures.WithLabelValues(NormalizeRoundFailure(err)).Inc()
}

// RecordEvaluation records how long a generation took to evaluate
func RecordEvaluation(duration time.Duration) {
	EvaluationDuration.Observe(duration.Seconds())
}

// RecordArtifactFailure records a failed artifact write
func RecordArtifactFailure(artifact string) {
	ArtifactWriteFailures.WithLabelValues(NormalizeArtifact(artifact)).Inc()
}

// UpdateLineage sets the king pool and godline gauges
func UpdateLineage(kingPoolSize, godlineLength int) {
	KingPoolSize.Set(float64(kingPoolSize))
	GodlineLength.Set(float64(godlineLength))
}

// UpdateDatabaseConnections updates database connection metrics
func UpdateDatabaseConnections(active, idle int32) {
	DatabaseConnectionsActive.Set(float64(active))
	DatabaseConnectionsIdle.Set(float64(idle))
}

// RecordEventPublished records a publish attempt on the event bus
func RecordEventPublished(event string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	EventsPublished.WithLabelValues(event, status).Inc()
}

// UpdateCircuitBreakerState sets the numeric state of a named breaker
func UpdateCircuitBreakerState(name string, state float64) {
	CircuitBreakerState.WithLabelValues(name).Set(state)
}

// RecordLedgerWrite records one lineage ledger write
func RecordLedgerWrite(event string, success bool, durationMs float64) {
	status := "success"
	if !success {
		status = "failure"
	}
	LedgerWrites.WithLabelValues(event, status).Inc()
	LedgerWriteDuration.Observe(durationMs)
}

// RecordCircuitBreakerTrip records a breaker transition to open
func RecordCircuitBreakerTrip(name string) {
	CircuitBreakerTrips.WithLabelValues(name).Inc()
}

// RecordCircuitBreakerRejection records a call refused by an open breaker
func RecordCircuitBreakerRejection(name string) {
	CircuitBreakerRejections.WithLabelValues(name).Inc()
}

// RecordRedisOperation records a Redis operation
func RecordRedisOperation(operation string) {
	RedisOperations.WithLabelValues(operation).Inc()
}

// RecordAPIRequest records an API request with duration
func RecordAPIRequest(method, path, statusCode string, durationMs float64) {
	APIRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationMs)
	HTTPRequests.WithLabelValues(method, path, statusCode).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	Errors.WithLabelValues(errorType, component).Inc()
}
