package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/killcore/killcore/internal/evolution"
)

// File names inside a FileStore directory.
const (
	KingPoolFile   = "king_pool.json"
	ArchiveFile    = "v4_archive.json"
	GodlineFile    = "godline.json"
	ResultFile     = "v5_result.json"
	ModulesDirName = "v4_modules"
)

// FileStore keeps every artifact as an indented JSON document under one directory.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStore creates the directory layout and returns a store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, ModulesDirName), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	log.Info().Str("dir", dir).Msg("File store opened")
	return &FileStore{dir: dir}, nil
}

// Dir returns the root directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

// readJSON decodes path into v. It reports false when the file does not exist.
func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- paths are built from the store root
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

// writeJSON writes v through a temp file and rename so readers never see a
// truncated document.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (s *FileStore) loadModules(name string) ([]*evolution.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var modules []*evolution.Module
	if _, err := readJSON(s.path(name), &modules); err != nil {
		return nil, err
	}
	if err := checkModules(modules); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return modules, nil
}

func (s *FileStore) saveModules(name string, modules []*evolution.Module) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if modules == nil {
		modules = []*evolution.Module{}
	}
	stamp(modules)
	return writeJSON(s.path(name), modules)
}

// LoadArchive implements Store.
func (s *FileStore) LoadArchive(ctx context.Context) ([]*evolution.Module, error) {
	return s.loadModules(ArchiveFile)
}

// SaveArchive implements Store.
func (s *FileStore) SaveArchive(ctx context.Context, modules []*evolution.Module) error {
	return s.saveModules(ArchiveFile, modules)
}

// LoadKingPool implements Store.
func (s *FileStore) LoadKingPool(ctx context.Context) ([]*evolution.Module, error) {
	return s.loadModules(KingPoolFile)
}

// SaveKingPool implements Store.
func (s *FileStore) SaveKingPool(ctx context.Context, kings []*evolution.Module) error {
	return s.saveModules(KingPoolFile, kings)
}

// LoadGodline implements Store.
func (s *FileStore) LoadGodline(ctx context.Context) ([]evolution.GodlineEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []evolution.GodlineEntry
	if _, err := readJSON(s.path(GodlineFile), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// SaveGodline implements Store.
func (s *FileStore) SaveGodline(ctx context.Context, entries []evolution.GodlineEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entries == nil {
		entries = []evolution.GodlineEntry{}
	}
	return writeJSON(s.path(GodlineFile), entries)
}

// LoadResult implements Store.
func (s *FileStore) LoadResult(ctx context.Context) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result Result
	found, err := readJSON(s.path(ResultFile), &result)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	if err := checkModules(result.Modules); err != nil {
		return nil, fmt.Errorf("%s: %w", ResultFile, err)
	}
	return &result, nil
}

// SaveResult implements Store.
func (s *FileStore) SaveResult(ctx context.Context, result *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp(result.Modules)
	return writeJSON(s.path(ResultFile), result)
}

func (s *FileStore) modulePath(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid module id %q", id)
	}
	return filepath.Join(s.dir, ModulesDirName, id+".json"), nil
}

// GetModule implements ModuleRepository.
func (s *FileStore) GetModule(ctx context.Context, id string) (*evolution.Module, error) {
	path, err := s.modulePath(id)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var m evolution.Module
	found, err := readJSON(path, &m)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("module %s: %w", id, ErrNotFound)
	}
	if err := CheckSchema(m.SchemaVersion); err != nil {
		return nil, fmt.Errorf("module %s: %w", id, err)
	}
	return &m, nil
}

// PutModule implements ModuleRepository.
func (s *FileStore) PutModule(ctx context.Context, m *evolution.Module) error {
	path, err := s.modulePath(m.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stamp([]*evolution.Module{m})
	return writeJSON(path, m)
}

// ListModules implements ModuleRepository. Modules are returned ordered by id.
func (s *FileStore) ListModules(ctx context.Context) ([]*evolution.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(s.dir, ModulesDirName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}

	var modules []*evolution.Module
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var m evolution.Module
		if _, err := readJSON(filepath.Join(s.dir, ModulesDirName, e.Name()), &m); err != nil {
			log.Warn().Err(err).Str("file", e.Name()).Msg("Skipping unreadable module record")
			continue
		}
		if err := CheckSchema(m.SchemaVersion); err != nil {
			return nil, fmt.Errorf("module %s: %w", m.ID, err)
		}
		modules = append(modules, &m)
	}

	sort.Slice(modules, func(i, j int) bool { return modules[i].ID < modules[j].ID })
	return modules, nil
}

// PruneModules implements ModuleRepository by removing module files whose
// id is not kept. Files that are not module records are left alone.
func (s *FileStore) PruneModules(ctx context.Context, keep []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.dir, ModulesDirName)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list modules: %w", err)
	}

	set := keepSet(keep)
	removed := 0
	for _, e := range entries {
		id, ok := strings.CutSuffix(e.Name(), ".json")
		if e.IsDir() || !ok {
			continue
		}
		if _, kept := set[id]; kept {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return removed, fmt.Errorf("failed to prune module %s: %w", id, err)
		}
		removed++
	}
	return removed, nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}
