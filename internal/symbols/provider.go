package symbols

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// ErrNoPool is returned when the configured symbol pool does not exist.
var ErrNoPool = errors.New("symbol pool not found")

// Provider supplies the symbol plan for a round.
type Provider interface {
	Plan(ctx context.Context) (Plan, error)
}

// FixedProvider always plans the same symbols.
type FixedProvider struct {
	Symbols []string
}

// NewFixedProvider creates a provider for symbols, defaulting to FixedSymbols.
func NewFixedProvider(symbols []string) *FixedProvider {
	if len(symbols) == 0 {
		symbols = FixedSymbols
	}
	return &FixedProvider{Symbols: symbols}
}

// Plan implements Provider.
func (p *FixedProvider) Plan(ctx context.Context) (Plan, error) {
	return BuildPlan(p.Symbols), nil
}

// Pool is the on-disk symbol pool document. Both YAML and JSON are accepted.
type Pool struct {
	GeneratedAt string   `yaml:"generated_at" json:"generated_at"`
	Symbols     []string `yaml:"symbols" json:"symbols"`
}

// FileProvider reads the symbol pool from a file on every call.
type FileProvider struct {
	path    string
	history *History
}

// NewFileProvider creates a file-backed provider. history may be nil.
func NewFileProvider(path string, history *History) *FileProvider {
	return &FileProvider{path: path, history: history}
}

// LoadPool parses a symbol pool file.
func LoadPool(path string) (*Pool, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from configuration
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoPool, path)
		}
		return nil, fmt.Errorf("failed to read symbol pool: %w", err)
	}

	var pool Pool
	if err := yaml.Unmarshal(data, &pool); err != nil {
		return nil, fmt.Errorf("failed to parse symbol pool %s: %w", path, err)
	}
	return &pool, nil
}

// Plan implements Provider. The resulting plan is appended to the history
// log when one is configured; history failures are logged and ignored.
func (p *FileProvider) Plan(ctx context.Context) (Plan, error) {
	pool, err := LoadPool(p.path)
	if err != nil {
		return Plan{}, err
	}

	plan := BuildPlan(pool.Symbols)

	if p.history != nil {
		stamp := pool.GeneratedAt
		if stamp == "" {
			stamp = time.Now().UTC().Format(time.RFC3339)
		}
		if err := p.history.Record(stamp, plan); err != nil {
			log.Warn().Err(err).Str("path", p.history.path).Msg("Failed to record symbol history")
		}
	}

	log.Debug().
		Str("path", p.path).
		Strs("symbols", plan.Symbols()).
		Int("assignments", len(plan.Assignments)).
		Msg("Symbol plan loaded")

	return plan, nil
}
