// Package store defines the persistence boundary of the tournament and its
// file and in-memory implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/killcore/killcore/internal/evolution"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Artifact names used when reporting partial write failures.
const (
	ArtifactResult   = "result"
	ArtifactArchive  = "archive"
	ArtifactKingPool = "king_pool"
	ArtifactGodline  = "godline"
	ArtifactModules  = "modules"
	ArtifactSymbols  = "selected_symbols"
)

// Result is the ranked, fully scored generation of one round.
type Result struct {
	RoundID   string              `json:"round_id"`
	CreatedAt time.Time           `json:"created_at"`
	Modules   []*evolution.Module `json:"modules"`
}

// ModuleRepository stores individual modules by id.
type ModuleRepository interface {
	GetModule(ctx context.Context, id string) (*evolution.Module, error)
	PutModule(ctx context.Context, m *evolution.Module) error
	ListModules(ctx context.Context) ([]*evolution.Module, error)
	// PruneModules deletes every module record whose id is not in keep and
	// returns how many were removed.
	PruneModules(ctx context.Context, keep []string) (int, error)
}

// Store persists the state shared between rounds. Load methods return an
// empty collection, not an error, when nothing has been stored yet.
type Store interface {
	ModuleRepository

	LoadArchive(ctx context.Context) ([]*evolution.Module, error)
	SaveArchive(ctx context.Context, modules []*evolution.Module) error

	LoadKingPool(ctx context.Context) ([]*evolution.Module, error)
	SaveKingPool(ctx context.Context, kings []*evolution.Module) error

	LoadGodline(ctx context.Context) ([]evolution.GodlineEntry, error)
	SaveGodline(ctx context.Context, entries []evolution.GodlineEntry) error

	// LoadResult returns ErrNotFound before the first round has completed.
	LoadResult(ctx context.Context) (*Result, error)
	SaveResult(ctx context.Context, result *Result) error

	Close() error
}

// checkModules validates the schema version of every loaded record.
func checkModules(modules []*evolution.Module) error {
	for _, m := range modules {
		if err := CheckSchema(m.SchemaVersion); err != nil {
			return err
		}
	}
	return nil
}

// keepSet indexes the ids a prune must leave in place.
func keepSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// stamp fills the schema version of records written by this build.
func stamp(modules []*evolution.Module) {
	for _, m := range modules {
		if m.SchemaVersion == "" {
			m.SchemaVersion = evolution.SchemaVersion
		}
	}
}
