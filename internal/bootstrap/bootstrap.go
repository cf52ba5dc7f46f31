// Package bootstrap builds the tournament's collaborators from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/killcore/killcore/internal/audit"
	"github.com/killcore/killcore/internal/cache"
	"github.com/killcore/killcore/internal/config"
	"github.com/killcore/killcore/internal/db"
	"github.com/killcore/killcore/internal/events"
	"github.com/killcore/killcore/internal/resilience"
	"github.com/killcore/killcore/internal/store"
	"github.com/killcore/killcore/internal/store/badgerstore"
	"github.com/killcore/killcore/internal/symbols"
	"github.com/killcore/killcore/internal/tournament"
)

// Storage is an opened store. Pool is set only for the postgres backend.
type Storage struct {
	Store store.Store
	Pool  *pgxpool.Pool
}

// OpenStore opens the configured persistence backend.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (*Storage, error) {
	switch cfg.Backend {
	case "", "file":
		fs, err := store.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return &Storage{Store: fs}, nil

	case "badger":
		var key []byte
		if cfg.EncryptionKey != "" {
			key = []byte(cfg.EncryptionKey)
		}
		bs, err := badgerstore.Open(badgerstore.Options{Path: cfg.BadgerPath, EncryptionKey: key})
		if err != nil {
			return nil, err
		}
		return &Storage{Store: bs}, nil

	case "postgres":
		pc := db.DefaultPoolConfig()
		if cfg.PoolSize > 0 {
			pc.MaxConns = int32(cfg.PoolSize) // #nosec G115 -- validated by config
			pc.MinConns = min(pc.MinConns, pc.MaxConns)
		}
		database, err := db.New(ctx, cfg.DatabaseURL, pc)
		if err != nil {
			return nil, err
		}
		return &Storage{Store: db.NewStoreFromDB(database), Pool: database.Pool()}, nil

	case "memory":
		log.Warn().Msg("Using in-memory storage, state will not survive the process")
		return &Storage{Store: store.NewMemoryStore()}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// NewProvider returns the configured symbol provider.
func NewProvider(cfg config.SymbolsConfig) (symbols.Provider, error) {
	switch cfg.Source {
	case "", "fixed":
		return symbols.NewFixedProvider(cfg.Fixed), nil
	case "file":
		var history *symbols.History
		if cfg.HistoryPath != "" {
			history = symbols.NewHistory(cfg.HistoryPath)
		}
		return symbols.NewFileProvider(cfg.PoolFile, history), nil
	default:
		return nil, fmt.Errorf("unknown symbol source %q", cfg.Source)
	}
}

// OpenCache connects the Redis snapshot cache. It returns nil when Redis is
// disabled or unreachable; the store stays authoritative either way.
func OpenCache(ctx context.Context, cfg config.RedisConfig) (*cache.KingCache, io.Closer) {
	if !cfg.Enabled {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.GetRedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.GetRedisAddr()).Msg("Redis unavailable, continuing without cache")
		_ = client.Close()
		return nil, nil
	}

	kc := cache.NewKingCache(client, cache.Options{
		TTL:     cfg.TTL,
		Breaker: resilience.NewBreaker("redis", resilience.CacheSettings()),
	})
	log.Info().Str("addr", cfg.GetRedisAddr()).Dur("ttl", cfg.TTL).Msg("Snapshot cache enabled")
	return kc, client
}

// OpenPublisher connects the NATS event publisher, or returns a no-op
// publisher when NATS is disabled.
func OpenPublisher(cfg config.NATSConfig) (events.Publisher, io.Closer, error) {
	if !cfg.Enabled {
		return events.NopPublisher{}, nil, nil
	}
	p, err := events.NewNATSPublisher(events.Config{
		URL:     cfg.URL,
		Prefix:  cfg.Prefix,
		Breaker: resilience.NewBreaker("nats", resilience.EventsSettings()),
	})
	if err != nil {
		return nil, nil, err
	}
	return p, p, nil
}

// WithLedger adds the Postgres lineage ledger next to pub when the store is
// backed by Postgres.
func WithLedger(pub events.Publisher, storage *Storage) (events.Publisher, *audit.Ledger) {
	if storage == nil || storage.Pool == nil {
		return pub, nil
	}
	ledger := audit.NewLedger(storage.Pool)
	return events.MultiPublisher{pub, ledger}, ledger
}

// TournamentConfig converts the loaded configuration into round settings.
func TournamentConfig(cfg *config.Config) (tournament.Config, error) {
	policy, err := cfg.KingPoolPolicy()
	if err != nil {
		return tournament.Config{}, err
	}
	return tournament.Config{
		Generator:   cfg.GeneratorConfig(),
		Scoring:     cfg.ScoringPolicy(),
		KingPool:    policy,
		Parallelism: cfg.Evolution.Parallelism,
		Seed:        cfg.Evolution.Seed,
		ExportPath:  cfg.Symbols.ExportPath,

		KeepModuleHistory: cfg.Storage.KeepModuleHistory,
	}, nil
}

// CloseAll closes every non-nil closer and joins the errors.
func CloseAll(closers ...io.Closer) error {
	var errs []error
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
