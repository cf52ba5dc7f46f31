package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/killcore/killcore/internal/evolution"
	"github.com/killcore/killcore/internal/store"
)

// PoolInterface defines the interface for database pool operations
type PoolInterface interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// State document names in tournament_state.
const (
	stateArchive  = "archive"
	stateKingPool = "king_pool"
	stateGodline  = "godline"
)

// Store is a store.Store backed by PostgreSQL.
type Store struct {
	pool  PoolInterface
	close func()
	now   func() time.Time
}

// NewStore creates a store on top of pool.
func NewStore(pool PoolInterface) *Store {
	return &Store{pool: pool, now: time.Now}
}

// NewStoreFromDB creates a store that closes database on Close.
func NewStoreFromDB(database *DB) *Store {
	s := NewStore(database.Pool())
	s.close = database.Close
	return s
}

// Close implements store.Store.
func (s *Store) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

func (s *Store) loadState(ctx context.Context, name string, v any) error {
	var document []byte
	err := s.pool.QueryRow(ctx,
		`SELECT document FROM tournament_state WHERE name = $1`, name,
	).Scan(&document)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", name, err)
	}
	if err := json.Unmarshal(document, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return nil
}

func (s *Store) saveState(ctx context.Context, name string, v any) error {
	document, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}

	query := `
		INSERT INTO tournament_state (name, document, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.pool.Exec(ctx, query, name, document, s.now()); err != nil {
		return fmt.Errorf("failed to save %s: %w", name, err)
	}

	log.Debug().Str("state", name).Int("bytes", len(document)).Msg("Tournament state saved")
	return nil
}

func (s *Store) loadModules(ctx context.Context, name string) ([]*evolution.Module, error) {
	var modules []*evolution.Module
	if err := s.loadState(ctx, name, &modules); err != nil {
		return nil, err
	}
	for _, m := range modules {
		if err := store.CheckSchema(m.SchemaVersion); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return modules, nil
}

func stamp(modules []*evolution.Module) []*evolution.Module {
	if modules == nil {
		return []*evolution.Module{}
	}
	for _, m := range modules {
		if m.SchemaVersion == "" {
			m.SchemaVersion = evolution.SchemaVersion
		}
	}
	return modules
}

// LoadArchive implements store.Store.
func (s *Store) LoadArchive(ctx context.Context) ([]*evolution.Module, error) {
	return s.loadModules(ctx, stateArchive)
}

// SaveArchive implements store.Store.
func (s *Store) SaveArchive(ctx context.Context, modules []*evolution.Module) error {
	return s.saveState(ctx, stateArchive, stamp(modules))
}

// LoadKingPool implements store.Store.
func (s *Store) LoadKingPool(ctx context.Context) ([]*evolution.Module, error) {
	return s.loadModules(ctx, stateKingPool)
}

// SaveKingPool implements store.Store.
func (s *Store) SaveKingPool(ctx context.Context, kings []*evolution.Module) error {
	return s.saveState(ctx, stateKingPool, stamp(kings))
}

// LoadGodline implements store.Store.
func (s *Store) LoadGodline(ctx context.Context) ([]evolution.GodlineEntry, error) {
	var entries []evolution.GodlineEntry
	if err := s.loadState(ctx, stateGodline, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// SaveGodline implements store.Store.
func (s *Store) SaveGodline(ctx context.Context, entries []evolution.GodlineEntry) error {
	if entries == nil {
		entries = []evolution.GodlineEntry{}
	}
	return s.saveState(ctx, stateGodline, entries)
}

// LoadResult implements store.Store. The most recent round wins.
func (s *Store) LoadResult(ctx context.Context) (*store.Result, error) {
	var (
		result  store.Result
		modules []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT round_id, created_at, modules
		FROM round_results
		ORDER BY created_at DESC
		LIMIT 1
	`).Scan(&result.RoundID, &result.CreatedAt, &modules)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load round result: %w", err)
	}
	if err := json.Unmarshal(modules, &result.Modules); err != nil {
		return nil, fmt.Errorf("failed to decode round result: %w", err)
	}
	return &result, nil
}

// SaveResult implements store.Store.
func (s *Store) SaveResult(ctx context.Context, result *store.Result) error {
	modules, err := json.Marshal(stamp(result.Modules))
	if err != nil {
		return fmt.Errorf("failed to encode round result: %w", err)
	}

	var kingID *string
	if len(result.Modules) > 0 && result.Modules[0].IsKing {
		kingID = &result.Modules[0].ID
	}

	query := `
		INSERT INTO round_results (round_id, created_at, king_id, module_count, modules)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (round_id) DO UPDATE SET
			king_id = EXCLUDED.king_id,
			module_count = EXCLUDED.module_count,
			modules = EXCLUDED.modules
	`
	if _, err := s.pool.Exec(ctx, query,
		result.RoundID, result.CreatedAt, kingID, len(result.Modules), modules,
	); err != nil {
		return fmt.Errorf("failed to save round result: %w", err)
	}
	return nil
}

// GetModule implements store.ModuleRepository.
func (s *Store) GetModule(ctx context.Context, id string) (*evolution.Module, error) {
	var record []byte
	err := s.pool.QueryRow(ctx, `SELECT record FROM modules WHERE id = $1`, id).Scan(&record)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("module %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get module %s: %w", id, err)
	}

	var m evolution.Module
	if err := json.Unmarshal(record, &m); err != nil {
		return nil, fmt.Errorf("failed to decode module %s: %w", id, err)
	}
	if err := store.CheckSchema(m.SchemaVersion); err != nil {
		return nil, fmt.Errorf("module %s: %w", id, err)
	}
	return &m, nil
}

// PutModule implements store.ModuleRepository.
func (s *Store) PutModule(ctx context.Context, m *evolution.Module) error {
	stamp([]*evolution.Module{m})
	record, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode module %s: %w", m.ID, err)
	}

	query := `
		INSERT INTO modules (id, symbol, strategy_type, score, schema_version, record, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			strategy_type = EXCLUDED.strategy_type,
			score = EXCLUDED.score,
			schema_version = EXCLUDED.schema_version,
			record = EXCLUDED.record,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.pool.Exec(ctx, query,
		m.ID, m.Symbol, string(m.StrategyType), m.Score, m.SchemaVersion, record, s.now(),
	); err != nil {
		return fmt.Errorf("failed to put module %s: %w", m.ID, err)
	}
	return nil
}

// PruneModules implements store.ModuleRepository.
func (s *Store) PruneModules(ctx context.Context, keep []string) (int, error) {
	if keep == nil {
		keep = []string{}
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM modules WHERE NOT (id = ANY($1))`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune modules: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListModules implements store.ModuleRepository.
func (s *Store) ListModules(ctx context.Context) ([]*evolution.Module, error) {
	rows, err := s.pool.Query(ctx, `SELECT record FROM modules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	defer rows.Close()

	var modules []*evolution.Module
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("failed to scan module: %w", err)
		}
		var m evolution.Module
		if err := json.Unmarshal(record, &m); err != nil {
			return nil, fmt.Errorf("failed to decode module: %w", err)
		}
		if err := store.CheckSchema(m.SchemaVersion); err != nil {
			return nil, fmt.Errorf("module %s: %w", m.ID, err)
		}
		modules = append(modules, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate modules: %w", err)
	}
	return modules, nil
}
