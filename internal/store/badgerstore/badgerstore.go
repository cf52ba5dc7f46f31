// Package badgerstore is a store.Store backed by an embedded Badger database.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"

	"github.com/killcore/killcore/internal/evolution"
	"github.com/killcore/killcore/internal/store"
)

const (
	keyArchive   = "state/archive"
	keyKingPool  = "state/king_pool"
	keyGodline   = "state/godline"
	keyResult    = "state/result"
	modulePrefix = "module/"
)

// Options configures the Badger database.
type Options struct {
	Path     string
	InMemory bool
	// EncryptionKey enables encryption at rest when set (16, 24 or 32 bytes).
	EncryptionKey []byte
}

// Store persists tournament state as JSON values in Badger.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the database.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("badgerstore: path is required")
	}

	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithInMemory(opts.InMemory)
	if opts.InMemory {
		bopts.Dir, bopts.ValueDir = "", ""
	}
	if len(opts.EncryptionKey) > 0 {
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(100 << 20)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}

	log.Info().
		Str("path", opts.Path).
		Bool("in_memory", opts.InMemory).
		Msg("Badger store opened")

	return &Store{db: db}, nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// get decodes the value at key into v, reporting whether the key exists.
func (s *Store) get(key string, v any) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return found, nil
}

func (s *Store) set(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	}); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *Store) loadModules(key string) ([]*evolution.Module, error) {
	var modules []*evolution.Module
	if _, err := s.get(key, &modules); err != nil {
		return nil, err
	}
	for _, m := range modules {
		if err := store.CheckSchema(m.SchemaVersion); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
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
	return s.loadModules(keyArchive)
}

// SaveArchive implements store.Store.
func (s *Store) SaveArchive(ctx context.Context, modules []*evolution.Module) error {
	return s.set(keyArchive, stamp(modules))
}

// LoadKingPool implements store.Store.
func (s *Store) LoadKingPool(ctx context.Context) ([]*evolution.Module, error) {
	return s.loadModules(keyKingPool)
}

// SaveKingPool implements store.Store.
func (s *Store) SaveKingPool(ctx context.Context, kings []*evolution.Module) error {
	return s.set(keyKingPool, stamp(kings))
}

// LoadGodline implements store.Store.
func (s *Store) LoadGodline(ctx context.Context) ([]evolution.GodlineEntry, error) {
	var entries []evolution.GodlineEntry
	if _, err := s.get(keyGodline, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// SaveGodline implements store.Store.
func (s *Store) SaveGodline(ctx context.Context, entries []evolution.GodlineEntry) error {
	if entries == nil {
		entries = []evolution.GodlineEntry{}
	}
	return s.set(keyGodline, entries)
}

// LoadResult implements store.Store.
func (s *Store) LoadResult(ctx context.Context) (*store.Result, error) {
	var result store.Result
	found, err := s.get(keyResult, &result)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, store.ErrNotFound
	}
	return &result, nil
}

// SaveResult implements store.Store.
func (s *Store) SaveResult(ctx context.Context, result *store.Result) error {
	stamp(result.Modules)
	return s.set(keyResult, result)
}

// GetModule implements store.ModuleRepository.
func (s *Store) GetModule(ctx context.Context, id string) (*evolution.Module, error) {
	var m evolution.Module
	found, err := s.get(modulePrefix+id, &m)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("module %s: %w", id, store.ErrNotFound)
	}
	if err := store.CheckSchema(m.SchemaVersion); err != nil {
		return nil, fmt.Errorf("module %s: %w", id, err)
	}
	return &m, nil
}

// PutModule implements store.ModuleRepository.
func (s *Store) PutModule(ctx context.Context, m *evolution.Module) error {
	if m.ID == "" {
		return errors.New("module id is required")
	}
	stamp([]*evolution.Module{m})
	return s.set(modulePrefix+m.ID, m)
}

// PutModules writes a whole generation in a single write batch.
func (s *Store) PutModules(ctx context.Context, modules []*evolution.Module) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, m := range stamp(modules) {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to encode module %s: %w", m.ID, err)
		}
		if err := wb.Set([]byte(modulePrefix+m.ID), data); err != nil {
			return fmt.Errorf("failed to queue module %s: %w", m.ID, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to flush modules: %w", err)
	}
	return nil
}

// PruneModules implements store.ModuleRepository. Stale keys are collected
// in a read transaction and dropped in one write batch.
func (s *Store) PruneModules(ctx context.Context, keep []string) (int, error) {
	kept := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		kept[modulePrefix+id] = struct{}{}
	}

	var stale [][]byte
	prefix := []byte(modulePrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if _, ok := kept[string(key)]; !ok {
				stale = append(stale, key)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan modules: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range stale {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("failed to queue delete of %s: %w", key, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush module deletes: %w", err)
	}
	return len(stale), nil
}

// ListModules implements store.ModuleRepository. Keys iterate in byte order,
// so modules come back sorted by id.
func (s *Store) ListModules(ctx context.Context) ([]*evolution.Module, error) {
	var modules []*evolution.Module
	prefix := []byte(modulePrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var m evolution.Module
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				return fmt.Errorf("failed to decode %s: %w", it.Item().Key(), err)
			}
			if err := store.CheckSchema(m.SchemaVersion); err != nil {
				return fmt.Errorf("module %s: %w", m.ID, err)
			}
			modules = append(modules, &m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return modules, nil
}
