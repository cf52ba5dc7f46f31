package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisMetrics(t *testing.T) (*RedisMetrics, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisMetrics(client), mr
}

func TestRedisMetrics_Client(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	rm := NewRedisMetrics(client)
	assert.Equal(t, client, rm.Client())
	assert.Zero(t, rm.HitRate())
}

func TestRedisMetrics_HitRate(t *testing.T) {
	rm, _ := setupRedisMetrics(t)
	ctx := context.Background()

	require.NoError(t, rm.Set(ctx, "killcore:test", "value", time.Minute))

	val, err := rm.Get(ctx, "killcore:test")
	require.NoError(t, err)
	assert.Equal(t, "value", val)

	_, err = rm.Get(ctx, "killcore:missing")
	assert.ErrorIs(t, err, redis.Nil)

	_, err = rm.Get(ctx, "killcore:test")
	require.NoError(t, err)

	assert.InDelta(t, 2.0/3.0, rm.HitRate(), 1e-9)

	rm.ResetStats()
	assert.Zero(t, rm.HitRate())
}

func TestRedisMetrics_DelExists(t *testing.T) {
	rm, mr := setupRedisMetrics(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("a", "1"))
	require.NoError(t, mr.Set("b", "2"))

	n, err := rm.Exists(ctx, "a", "b", "c")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, rm.Del(ctx, "a"))
	assert.False(t, mr.Exists("a"))
	require.NoError(t, rm.Ping(ctx))
}

func TestRedisMetrics_ServerDown(t *testing.T) {
	rm, mr := setupRedisMetrics(t)
	mr.Close()

	_, err := rm.Get(context.Background(), "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, redis.Nil)
	assert.Error(t, rm.Ping(context.Background()))
}
