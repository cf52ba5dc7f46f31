package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/killcore/killcore/internal/evolution"
)

// MemoryStore is a Store held entirely in memory. Values are cloned on the
// way in and out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	archive  []*evolution.Module
	kings    []*evolution.Module
	godline  []evolution.GodlineEntry
	result   *Result
	modules  map[string]*evolution.Module
	failures map[string]error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		modules:  make(map[string]*evolution.Module),
		failures: make(map[string]error),
	}
}

// FailWrites makes every subsequent write of the named artifact return err.
// A nil err clears the failure.
func (s *MemoryStore) FailWrites(artifact string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, artifact)
		return
	}
	s.failures[artifact] = err
}

func cloneModules(in []*evolution.Module) []*evolution.Module {
	if in == nil {
		return nil
	}
	out := make([]*evolution.Module, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}

func cloneEntries(in []evolution.GodlineEntry) []evolution.GodlineEntry {
	out := slices.Clone(in)
	for i := range out {
		out[i].Bloodline = slices.Clone(out[i].Bloodline)
	}
	return out
}

// LoadArchive implements Store.
func (s *MemoryStore) LoadArchive(ctx context.Context) ([]*evolution.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := checkModules(s.archive); err != nil {
		return nil, err
	}
	return cloneModules(s.archive), nil
}

// SaveArchive implements Store.
func (s *MemoryStore) SaveArchive(ctx context.Context, modules []*evolution.Module) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[ArtifactArchive]; err != nil {
		return err
	}
	s.archive = cloneModules(modules)
	stamp(s.archive)
	return nil
}

// LoadKingPool implements Store.
func (s *MemoryStore) LoadKingPool(ctx context.Context) ([]*evolution.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := checkModules(s.kings); err != nil {
		return nil, err
	}
	return cloneModules(s.kings), nil
}

// SaveKingPool implements Store.
func (s *MemoryStore) SaveKingPool(ctx context.Context, kings []*evolution.Module) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[ArtifactKingPool]; err != nil {
		return err
	}
	s.kings = cloneModules(kings)
	stamp(s.kings)
	return nil
}

// LoadGodline implements Store.
func (s *MemoryStore) LoadGodline(ctx context.Context) ([]evolution.GodlineEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneEntries(s.godline), nil
}

// SaveGodline implements Store.
func (s *MemoryStore) SaveGodline(ctx context.Context, entries []evolution.GodlineEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[ArtifactGodline]; err != nil {
		return err
	}
	s.godline = cloneEntries(entries)
	return nil
}

// LoadResult implements Store.
func (s *MemoryStore) LoadResult(ctx context.Context) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.result == nil {
		return nil, ErrNotFound
	}
	r := *s.result
	r.Modules = cloneModules(s.result.Modules)
	return &r, nil
}

// SaveResult implements Store.
func (s *MemoryStore) SaveResult(ctx context.Context, result *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[ArtifactResult]; err != nil {
		return err
	}
	r := *result
	r.Modules = cloneModules(result.Modules)
	stamp(r.Modules)
	s.result = &r
	return nil
}

// GetModule implements ModuleRepository.
func (s *MemoryStore) GetModule(ctx context.Context, id string) (*evolution.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modules[id]
	if !ok {
		return nil, fmt.Errorf("module %s: %w", id, ErrNotFound)
	}
	return m.Clone(), nil
}

// PutModule implements ModuleRepository.
func (s *MemoryStore) PutModule(ctx context.Context, m *evolution.Module) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[ArtifactModules]; err != nil {
		return err
	}
	c := m.Clone()
	stamp([]*evolution.Module{c})
	s.modules[m.ID] = c
	return nil
}

// ListModules implements ModuleRepository.
func (s *MemoryStore) ListModules(ctx context.Context) ([]*evolution.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*evolution.Module, 0, len(s.modules))
	for _, m := range s.modules {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PruneModules implements ModuleRepository.
func (s *MemoryStore) PruneModules(ctx context.Context, keep []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[ArtifactModules]; err != nil {
		return 0, err
	}
	set := keepSet(keep)
	removed := 0
	for id := range s.modules {
		if _, ok := set[id]; !ok {
			delete(s.modules, id)
			removed++
		}
	}
	return removed, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
