// Package cache keeps the latest round's king and lineage in Redis so
// read-only consumers do not have to hit the store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/killcore/killcore/internal/evolution"
	"github.com/killcore/killcore/internal/metrics"
	"github.com/killcore/killcore/internal/resilience"
)

// DefaultTTL bounds how long a snapshot is served after the last round.
const DefaultTTL = 24 * time.Hour

const (
	defaultPrefix = "killcore:"
	snapshotKey   = "snapshot"
	opTimeout     = 500 * time.Millisecond
)

// Snapshot is the cached view of the tournament after a round.
type Snapshot struct {
	RoundID   string                   `json:"round_id"`
	King      *evolution.Module        `json:"king"`
	KingPool  []*evolution.Module      `json:"king_pool"`
	Godline   []evolution.GodlineEntry `json:"godline"`
	Report    evolution.Report         `json:"report"`
	UpdatedAt time.Time                `json:"updated_at"`
}

// KingCache stores Snapshots in Redis. A nil *KingCache is a valid no-op cache.
type KingCache struct {
	client  *metrics.RedisMetrics
	ttl     time.Duration
	prefix  string
	breaker *resilience.Breaker
}

// Options configures a KingCache.
type Options struct {
	TTL     time.Duration
	Prefix  string
	Breaker *resilience.Breaker
}

// NewKingCache creates a Redis-backed cache.
// If client is nil, returns nil (optional Redis support)
func NewKingCache(client *redis.Client, opts Options) *KingCache {
	if client == nil {
		return nil
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	return &KingCache{
		client:  metrics.NewRedisMetrics(client),
		ttl:     opts.TTL,
		prefix:  opts.Prefix,
		breaker: opts.Breaker,
	}
}

func (c *KingCache) key() string {
	return c.prefix + snapshotKey
}

func (c *KingCache) guard(fn func() error) error {
	if c.breaker == nil {
		return fn()
	}
	return c.breaker.Execute(fn)
}

// Set stores the snapshot with the configured TTL.
func (c *KingCache) Set(ctx context.Context, snap Snapshot) error {
	if c == nil {
		return nil
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	cacheCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err = c.guard(func() error {
		return c.client.Set(cacheCtx, c.key(), data, c.ttl)
	})
	if err != nil {
		log.Warn().Err(err).Str("key", c.key()).Msg("Failed to cache snapshot")
		return fmt.Errorf("failed to cache snapshot: %w", err)
	}

	log.Debug().
		Str("round_id", snap.RoundID).
		Dur("ttl", c.ttl).
		Msg("Cached tournament snapshot")
	return nil
}

// Get returns the cached snapshot. Errors and misses both report false;
// a cache failure is never fatal to the caller.
func (c *KingCache) Get(ctx context.Context) (*Snapshot, bool) {
	if c == nil {
		return nil, false
	}

	cacheCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var raw string
	err := c.guard(func() error {
		var err error
		raw, err = c.client.Get(cacheCtx, c.key())
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	})
	if err != nil {
		log.Debug().Err(err).Str("key", c.key()).Msg("Redis get error - treating as cache miss")
		return nil, false
	}
	if raw == "" {
		return nil, false
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		log.Warn().Err(err).Str("key", c.key()).Msg("Failed to unmarshal cached snapshot")
		return nil, false
	}
	return &snap, true
}

// Invalidate removes the cached snapshot.
func (c *KingCache) Invalidate(ctx context.Context) error {
	if c == nil {
		return nil
	}
	cacheCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return c.guard(func() error {
		return c.client.Del(cacheCtx, c.key())
	})
}

// Health pings Redis.
func (c *KingCache) Health(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("cache not initialized")
	}
	cacheCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return c.client.Ping(cacheCtx)
}

// HitRate returns the fraction of lookups served from Redis.
func (c *KingCache) HitRate() float64 {
	if c == nil {
		return 0
	}
	return c.client.HitRate()
}
