package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// newRedisManager starts an in-process Redis server and returns an enabled
// manager connected to it
func newRedisManager(t *testing.T, mutate func(*Config)) (*Manager, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Enabled = true
	if mutate != nil {
		mutate(cfg)
	}
	m := NewManagerWithClient(cfg, redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = m.Close() })
	return m, mr
}

func TestRedisRoundTrip(t *testing.T) {
	t.Parallel()

	m, _ := newRedisManager(t, nil)
	ctx := context.Background()
	require.NoError(t, m.Ping(ctx))

	_, ok, err := m.GetEntry(ctx, "member", int64(1))
	require.NoError(t, err)
	require.False(t, ok)

	stamp, err := m.Stamp(ctx)
	require.NoError(t, err)
	require.NoError(t, m.PutEntry(ctx, "member", int64(1), stamp, map[string]any{"member_id": int64(1), "username": "ann", "age": 30}))

	columns, ok, err := m.GetEntry(ctx, "member", int64(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ann", columns["username"])
	require.Equal(t, int64(30), columns["age"])

	snapshot := m.GetMetrics()
	require.Equal(t, uint64(1), snapshot.CacheHits)
	require.Equal(t, uint64(1), snapshot.CacheMisses)
	require.Equal(t, uint64(1), snapshot.Regions["member"].Fills)
	require.Zero(t, snapshot.CacheErrors)
}

func TestEntriesExpireWithRegionTTL(t *testing.T) {
	t.Parallel()

	m, mr := newRedisManager(t, func(c *Config) {
		c.Regions = map[string]RegionConfig{"member": {TTL: time.Minute}}
	})
	ctx := context.Background()

	require.NoError(t, m.PutEntry(ctx, "member", 1, 0, map[string]any{"age": 30}))
	require.NoError(t, m.PutEntry(ctx, "team", 1, 0, map[string]any{"name": "core"}))
	require.Equal(t, time.Minute, mr.TTL(m.EntryKey("member", 1)))
	require.Equal(t, time.Hour, mr.TTL(m.EntryKey("team", 1)))

	mr.FastForward(time.Minute + time.Second)
	_, ok, err := m.GetEntry(ctx, "member", 1)
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = m.GetEntry(ctx, "team", 1)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDisabledRegionNeverReachesRedis(t *testing.T) {
	t.Parallel()

	m, mr := newRedisManager(t, func(c *Config) {
		c.Regions = map[string]RegionConfig{"audit": {Disabled: true}}
	})
	ctx := context.Background()

	require.NoError(t, m.PutEntry(ctx, "audit", 1, 0, map[string]any{"action": "login"}))
	_, ok, err := m.GetEntry(ctx, "audit", 1)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, mr.Keys())
	require.Equal(t, MetricsSnapshot{}, m.GetMetrics())
}

func TestEvictRegionKeepsOtherRegions(t *testing.T) {
	t.Parallel()

	m, mr := newRedisManager(t, nil)
	ctx := context.Background()

	for id := 1; id <= 3; id++ {
		require.NoError(t, m.PutEntry(ctx, "member", id, 0, map[string]any{"age": id}))
	}
	require.NoError(t, m.PutEntry(ctx, "team", 1, 0, map[string]any{"name": "core"}))

	require.NoError(t, m.EvictRegion(ctx, "member"))
	for id := 1; id <= 3; id++ {
		require.False(t, mr.Exists(m.EntryKey("member", id)))
	}
	_, ok, err := m.GetEntry(ctx, "team", 1)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, m.EvictEntry(ctx, "team", 1))
	require.False(t, mr.Exists(m.EntryKey("team", 1)))

	snapshot := m.GetMetrics()
	require.Equal(t, uint64(1), snapshot.Regions["member"].Invalidations)
	require.Equal(t, uint64(1), snapshot.Regions["team"].Evictions)
}

func TestFillsOlderThanAnEvictionAreRefused(t *testing.T) {
	t.Parallel()

	m, mr := newRedisManager(t, nil)
	ctx := context.Background()

	before, err := m.Stamp(ctx)
	require.NoError(t, err)
	require.NoError(t, m.EvictEntry(ctx, "member", 1))
	after, err := m.Stamp(ctx)
	require.NoError(t, err)
	require.Greater(t, after, before)

	// a reader that started before the eviction may hold the old row
	require.NoError(t, m.PutEntry(ctx, "member", 1, before, map[string]any{"age": 30}))
	require.False(t, mr.Exists(m.EntryKey("member", 1)))

	require.NoError(t, m.PutEntry(ctx, "member", 1, after, map[string]any{"age": 31}))
	columns, ok, err := m.GetEntry(ctx, "member", 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(31), columns["age"])

	// an existing entry is never overwritten by a fill
	require.NoError(t, m.PutEntry(ctx, "member", 1, after, map[string]any{"age": 99}))
	columns, _, err = m.GetEntry(ctx, "member", 1)
	require.NoError(t, err)
	require.Equal(t, int64(31), columns["age"])

	// region evictions refuse fills of every entry in the region
	require.NoError(t, m.EvictRegion(ctx, "member"))
	require.NoError(t, m.PutEntry(ctx, "member", 2, after, map[string]any{"age": 40}))
	require.False(t, mr.Exists(m.EntryKey("member", 2)))

	snapshot := m.GetMetrics().Regions["member"]
	require.Equal(t, uint64(1), snapshot.Fills)
	require.Equal(t, uint64(3), snapshot.RefusedFills)
}
