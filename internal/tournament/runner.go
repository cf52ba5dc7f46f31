// Package tournament runs Killcore rounds: it reads the shared lineage,
// breeds and scores a generation, crowns a king and persists the outcome.
package tournament

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/killcore/killcore/internal/cache"
	"github.com/killcore/killcore/internal/events"
	"github.com/killcore/killcore/internal/evolution"
	"github.com/killcore/killcore/internal/metrics"
	"github.com/killcore/killcore/internal/store"
	"github.com/killcore/killcore/internal/symbols"
)

// Config holds round settings
type Config struct {
	Generator   evolution.GeneratorConfig `json:"generator" yaml:"generator"`
	Scoring     evolution.ScoringPolicy   `json:"scoring" yaml:"scoring"`
	KingPool    evolution.KingPoolPolicy  `json:"king_pool" yaml:"king_pool"`
	Parallelism int                       `json:"parallelism" yaml:"parallelism"` // concurrent evaluations
	Seed        int64                     `json:"seed" yaml:"seed"`               // 0 = time based
	ExportPath  string                    `json:"export_path" yaml:"export_path"` // selected symbols export, empty disables
	// KeepModuleHistory retains the per-module records of earlier rounds.
	// By default only the latest generation, the king pool and the godline
	// remain addressable by id.
	KeepModuleHistory bool `json:"keep_module_history" yaml:"keep_module_history"`
}

// DefaultConfig returns the standard round configuration.
func DefaultConfig() Config {
	return Config{
		Generator:   evolution.DefaultGeneratorConfig(),
		Scoring:     evolution.DefaultScoringPolicy(),
		KingPool:    evolution.SingleSlotPolicy(),
		Parallelism: 8,
	}
}

// RoundResult is the outcome of one completed round
type RoundResult struct {
	RoundID    string
	King       *evolution.Module
	Succession *evolution.Succession
	Report     evolution.Report
	Modules    []*evolution.Module // ranked generation
	KingPool   []*evolution.Module
	Godline    []evolution.GodlineEntry
	Symbols    []string
	Duration   time.Duration
}

// inputs is the state read at round start
type inputs struct {
	archive []*evolution.Module
	kings   []*evolution.Module
	godline []evolution.GodlineEntry
	plan    symbols.Plan
}

// Runner executes rounds one at a time. It is not safe for concurrent use.
type Runner struct {
	config    Config
	log       zerolog.Logger
	store     store.Store
	provider  symbols.Provider
	generator *evolution.Generator
	evaluator evolution.Evaluator
	publisher events.Publisher
	cache     *cache.KingCache

	now   func() time.Time
	newID func() string
}

// Option customises a Runner
type Option func(*Runner)

// WithEvaluator replaces the synthetic evaluator.
func WithEvaluator(ev evolution.Evaluator) Option {
	return func(r *Runner) { r.evaluator = ev }
}

// WithPublisher publishes round events.
func WithPublisher(p events.Publisher) Option {
	return func(r *Runner) {
		if p != nil {
			r.publisher = p
		}
	}
}

// WithCache refreshes the king snapshot cache after every round.
func WithCache(c *cache.KingCache) Option {
	return func(r *Runner) { r.cache = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a round runner
func NewRunner(config Config, st store.Store, provider symbols.Provider, log zerolog.Logger, opts ...Option) (*Runner, error) {
	if st == nil {
		return nil, errors.New("tournament: store is required")
	}
	if provider == nil {
		provider = symbols.NewFixedProvider(nil)
	}
	if config.KingPool.Capacity <= 0 {
		config.KingPool = evolution.SingleSlotPolicy()
	}

	generator := evolution.NewGenerator(config.Generator, config.Seed)

	r := &Runner{
		config:    config,
		log:       log.With().Str("component", "tournament").Logger(),
		store:     st,
		provider:  provider,
		generator: generator,
		evaluator: evolution.NewSyntheticEvaluator(generator.Seed()),
		publisher: events.NopPublisher{},
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(r)
	}

	r.log.Info().
		Int64("seed", generator.Seed()).
		Int("module_count", config.Generator.ModuleCount).
		Str("king_pool_admission", string(config.KingPool.Admission)).
		Int("king_pool_capacity", config.KingPool.Capacity).
		Msg("Tournament runner created")

	return r, nil
}

// Seed returns the seed driving generation and evaluation.
func (r *Runner) Seed() int64 {
	return r.generator.Seed()
}

// RunRound executes one complete round. When some output artifacts fail to
// persist the result is still returned together with a
// *evolution.PartialWriteError; nothing already written is rolled back.
func (r *Runner) RunRound(ctx context.Context) (*RoundResult, error) {
	start := time.Now()
	roundID := r.newID()
	log := r.log.With().Str("round_id", roundID).Logger()

	log.Info().Msg("Round started")

	result, err := r.runRound(ctx, roundID, log)
	if err != nil {
		r.fail(ctx, roundID, err, log)
		return nil, err
	}
	result.Duration = time.Since(start)

	partial := r.persist(ctx, result, log)

	outcome := metrics.OutcomeSuccess
	if partial != nil {
		outcome = metrics.OutcomePartial
	}
	metrics.RecordRound(result.Report, outcome, result.Duration)
	metrics.UpdateLineage(len(result.KingPool), len(result.Godline))

	r.publish(ctx, events.FromRound(roundID, result.Succession, result.Report, r.now()), log)
	r.refreshCache(ctx, result, log)

	log.Info().
		Str("king_id", result.King.ID).
		Float64("king_score", result.King.Score).
		Int("king_rounds", result.King.KingRounds).
		Int("modules", result.Report.Total).
		Str("outcome", outcome).
		Dur("duration", result.Duration).
		Msg("Round complete")

	if partial != nil {
		return result, partial
	}
	return result, nil
}

// runRound performs the in-memory part of a round: read, breed, score, crown.
func (r *Runner) runRound(ctx context.Context, roundID string, log zerolog.Logger) (*RoundResult, error) {
	in, err := r.load(ctx, log)
	if err != nil {
		return nil, err
	}

	selected := in.plan.Symbols()
	if len(selected) == 0 {
		selected = r.config.Generator.FallbackSymbols
	}

	// Only the godline's reigning god may breed with divine damping.
	godline := evolution.NewGodline(in.godline)
	var reigning []string
	if last, ok := godline.LastDivine(); ok {
		reigning = append(reigning, last.ID)
	}
	if stale := evolution.SettleDivinity(in.kings, reigning...); len(stale) > 0 {
		log.Warn().Strs("module_ids", stale).Msg("Demoted stale gods in king pool")
	}

	gen := r.generator.Generate(roundTag(roundID), evolution.Input{
		Archive:       in.archive,
		Kings:         in.kings,
		Symbols:       selected,
		SymbolWeights: in.plan.Weights(),
	})

	evalStart := time.Now()
	if err := evolution.EvaluateGeneration(ctx, r.evaluator, r.config.Scoring, gen.Modules, r.config.Parallelism); err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}
	metrics.RecordEvaluation(time.Since(evalStart))

	succession, err := evolution.Succeed(gen.Modules, godline, r.now())
	if err != nil {
		return nil, fmt.Errorf("succession failed: %w", err)
	}

	pool := evolution.NewKingPool(r.config.KingPool, in.kings)
	pool.Admit(succession.King)
	divine := []string{succession.King.ID}
	for _, m := range succession.Protected {
		divine = append(divine, m.ID)
	}
	if fallen := pool.Settle(divine...); len(fallen) > 0 {
		log.Debug().Strs("module_ids", fallen).Msg("Dethroned gods kept in king pool as fallen")
	}

	// Descendants of the fallback seed keep its id prefix; only a round that
	// was itself seeded from the fallback counts as a fallback round.
	report := evolution.Summarize(roundID, gen.Modules)
	report.UsedFallback = gen.UsedFallback

	return &RoundResult{
		RoundID:    roundID,
		King:       succession.King,
		Succession: succession,
		Report:     report,
		Modules:    gen.Modules,
		KingPool:   pool.Kings(),
		Godline:    godline.Entries,
		Symbols:    selected,
	}, nil
}

// roundTag is the short round marker embedded in child ids.
func roundTag(roundID string) string {
	if len(roundID) > 8 {
		return roundID[:8]
	}
	return roundID
}

// load reads the round inputs. Absent or unreadable inputs degrade to empty
// collections; records written by a newer schema abort the round so they are
// never overwritten.
func (r *Runner) load(ctx context.Context, log zerolog.Logger) (inputs, error) {
	var in inputs

	missing := func(input string, err error) error {
		if errors.Is(err, store.ErrIncompatibleSchema) {
			return fmt.Errorf("failed to load %s: %w", input, err)
		}
		log.Warn().Err(err).Str("input", input).Msg("Missing input, continuing with an empty collection")
		return nil
	}

	var err error
	if in.archive, err = r.store.LoadArchive(ctx); err != nil {
		if err := missing("archive", err); err != nil {
			return in, err
		}
		in.archive = nil
	}
	if in.kings, err = r.store.LoadKingPool(ctx); err != nil {
		if err := missing("king_pool", err); err != nil {
			return in, err
		}
		in.kings = nil
	}
	if in.godline, err = r.store.LoadGodline(ctx); err != nil {
		if err := missing("godline", err); err != nil {
			return in, err
		}
		in.godline = nil
	}

	if in.plan, err = r.provider.Plan(ctx); err != nil {
		log.Warn().Err(err).Str("input", "symbols").Msg("Missing input, continuing with fallback symbols")
		in.plan = symbols.Plan{}
	}

	if err := ctx.Err(); err != nil {
		return in, err
	}

	log.Debug().
		Int("archive", len(in.archive)).
		Int("kings", len(in.kings)).
		Int("godline", len(in.godline)).
		Strs("symbols", in.plan.Symbols()).
		Msg("Round inputs loaded")

	return in, nil
}

// persist writes every output artifact independently and collects failures.
func (r *Runner) persist(ctx context.Context, res *RoundResult, log zerolog.Logger) error {
	failures := make(map[string]error)

	write := func(artifact string, fn func() error) {
		if err := fn(); err != nil {
			failures[artifact] = err
			metrics.RecordArtifactFailure(artifact)
			log.Error().Err(err).Str("artifact", artifact).Msg("Failed to persist artifact")
		}
	}

	write(store.ArtifactResult, func() error {
		return r.store.SaveResult(ctx, &store.Result{
			RoundID:   res.RoundID,
			CreatedAt: r.now(),
			Modules:   res.Modules,
		})
	})
	write(store.ArtifactArchive, func() error {
		return r.store.SaveArchive(ctx, res.Modules)
	})
	write(store.ArtifactKingPool, func() error {
		return r.store.SaveKingPool(ctx, res.KingPool)
	})
	write(store.ArtifactGodline, func() error {
		return r.store.SaveGodline(ctx, res.Godline)
	})
	write(store.ArtifactModules, func() error {
		var errs []error
		for _, m := range res.Modules {
			if err := r.store.PutModule(ctx, m); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 || r.config.KeepModuleHistory {
			return errors.Join(errs...)
		}
		removed, err := r.store.PruneModules(ctx, retainedModuleIDs(res))
		if err != nil {
			return err
		}
		log.Debug().Int("removed", removed).Msg("Pruned module records of earlier rounds")
		return nil
	})
	if r.config.ExportPath != "" {
		write(store.ArtifactSymbols, func() error {
			return symbols.ExportSelected(r.config.ExportPath, res.Symbols)
		})
	}

	if len(failures) == 0 {
		return nil
	}
	return &evolution.PartialWriteError{RoundID: res.RoundID, Failures: failures}
}

// retainedModuleIDs lists the module records that survive a prune: the
// current generation, the king pool and every godline entry.
func retainedModuleIDs(res *RoundResult) []string {
	ids := make([]string, 0, len(res.Modules)+len(res.KingPool)+len(res.Godline))
	for _, m := range res.Modules {
		ids = append(ids, m.ID)
	}
	for _, k := range res.KingPool {
		ids = append(ids, k.ID)
	}
	for _, e := range res.Godline {
		ids = append(ids, e.ID)
	}
	return ids
}

// publish delivers round events. Delivery failures never fail the round.
func (r *Runner) publish(ctx context.Context, evs []events.Event, log zerolog.Logger) {
	for _, ev := range evs {
		if err := r.publisher.Publish(ctx, ev); err != nil {
			log.Warn().Err(err).Str("event", string(ev.Type)).Msg("Failed to publish event")
			metrics.RecordError("publish", "tournament")
		}
	}
}

func (r *Runner) refreshCache(ctx context.Context, res *RoundResult, log zerolog.Logger) {
	if r.cache == nil {
		return
	}
	err := r.cache.Set(ctx, cache.Snapshot{
		RoundID:   res.RoundID,
		King:      res.King,
		KingPool:  res.KingPool,
		Godline:   res.Godline,
		Report:    res.Report,
		UpdatedAt: r.now(),
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to refresh king cache")
		metrics.RecordError("cache", "tournament")
	}
}

func (r *Runner) fail(ctx context.Context, roundID string, err error, log zerolog.Logger) {
	log.Error().Err(err).Msg("Round failed")
	metrics.RecordRoundFailure(err)

	// The round context may already be done; failure events still go out.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	r.publish(pubCtx, []events.Event{events.RoundFailed(roundID, err, r.now())}, log)
}

// Run executes rounds back to back until rounds have completed (0 = until
// ctx is done), waiting interval between rounds. A partial write is logged
// and the loop continues; any other error stops the loop. It returns the
// last result and the first partial write error seen, if any.
func (r *Runner) Run(ctx context.Context, rounds int, interval time.Duration) (*RoundResult, error) {
	var (
		last    *RoundResult
		partial error
	)

	for i := 1; rounds == 0 || i <= rounds; i++ {
		res, err := r.RunRound(ctx)
		if err != nil {
			var pwe *evolution.PartialWriteError
			if !errors.As(err, &pwe) {
				return last, err
			}
			if partial == nil {
				partial = err
			}
		}
		last = res

		if rounds != 0 && i == rounds {
			break
		}
		if interval > 0 {
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return last, ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return last, err
		}
	}

	return last, partial
}
