package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestEntryRoundTrip(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	data, saved, err := encodeEntry(map[string]any{
		"username": "ann",
		"age":      30,
		"team":     nil,
		"created":  created,
	}, 0)
	require.NoError(t, err)
	require.Zero(t, saved)
	require.Equal(t, encodingPlain, data[0])

	columns, err := decodeEntry(data)
	require.NoError(t, err)
	require.Equal(t, "ann", columns["username"])
	require.Equal(t, int64(30), columns["age"])
	require.Nil(t, columns["team"])
	require.True(t, created.Equal(columns["created"].(time.Time)))
}

func TestLargeEntriesAreCompressed(t *testing.T) {
	t.Parallel()

	bio := strings.Repeat("persist ", 1000)
	data, saved, err := encodeEntry(map[string]any{"bio": bio}, 512)
	require.NoError(t, err)
	require.Equal(t, encodingGzip, data[0])
	require.Positive(t, saved)

	columns, err := decodeEntry(data)
	require.NoError(t, err)
	require.Equal(t, bio, columns["bio"])

	// below the threshold the entry stays plain
	data, _, err = encodeEntry(map[string]any{"bio": "short"}, 512)
	require.NoError(t, err)
	require.Equal(t, encodingPlain, data[0])
}

func TestDecodeRejectsCorruptEntries(t *testing.T) {
	t.Parallel()

	for _, data := range [][]byte{nil, {9, 1, 2}, {encodingGzip, 1, 2, 3}, {encodingPlain, 0xc1}} {
		_, err := decodeEntry(data)
		require.True(t, IsSerializationFailed(err), "%v", data)
	}
}

func TestKeys(t *testing.T) {
	t.Parallel()

	m := NewManagerWithClient(DefaultConfig(), nil)
	require.Equal(t, "persist4go:entity:{member}:7", m.EntryKey("member", int64(7)))
	require.Equal(t, "persist4go:entity:{member}:*", m.regionPattern("member"))
	require.Equal(t, "persist4go:stamp:{member}:7", m.entryStampKey("member", int64(7)))
	require.Equal(t, "persist4go:stamp:{member}", m.regionStampKey("member"))
}

func TestDisabledManagerIsANoop(t *testing.T) {
	t.Parallel()

	m, err := NewManager(DefaultConfig())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.Ping(ctx))
	_, ok, err := m.GetEntry(ctx, "member", 1)
	require.NoError(t, err)
	require.False(t, ok)
	stamp, err := m.Stamp(ctx)
	require.NoError(t, err)
	require.Zero(t, stamp)
	require.NoError(t, m.PutEntry(ctx, "member", 1, stamp, map[string]any{"age": 1}))
	require.NoError(t, m.EvictEntry(ctx, "member", 1))
	require.NoError(t, m.EvictRegion(ctx, "member"))
	require.NoError(t, m.Close())
	require.Equal(t, MetricsSnapshot{}, m.GetMetrics())
}

func TestUnreachableServerReportsErrors(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Enabled = true
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	m := NewManagerWithClient(cfg, client)
	t.Cleanup(func() { _ = m.Close() })
	ctx := context.Background()

	require.True(t, IsConnectionFailed(m.Ping(ctx)))

	_, ok, err := m.GetEntry(ctx, "member", 1)
	require.Error(t, err)
	require.False(t, ok)
	require.Error(t, m.PutEntry(ctx, "member", 1, 0, map[string]any{"age": 1}))
	_, err = m.Stamp(ctx)
	require.Error(t, err)

	snapshot := m.GetMetrics()
	require.Equal(t, uint64(3), snapshot.CacheErrors)
	require.Zero(t, snapshot.CacheMisses)
	m.ResetMetrics()
	require.Zero(t, m.GetMetrics().CacheErrors)
}

func TestExcludedRegionIsNeverRead(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Regions = map[string]RegionConfig{"audit": {Disabled: true}}
	m := NewManagerWithClient(cfg, redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1}))
	t.Cleanup(func() { _ = m.Close() })

	_, ok, err := m.GetEntry(context.Background(), "audit", 1)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, m.PutEntry(context.Background(), "audit", 1, 0, map[string]any{}))
	require.Equal(t, MetricsSnapshot{}, m.GetMetrics())
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no host", func(c *Config) { c.Host = "" }},
		{"bad port", func(c *Config) { c.Port = 0 }},
		{"no ttl", func(c *Config) { c.DefaultTTL = 0 }},
		{"no pool", func(c *Config) { c.PoolSize = 0 }},
		{"no prefix", func(c *Config) { c.KeyPrefix = "" }},
		{"bad threshold", func(c *Config) { c.Compression.Threshold = 0 }},
		{"cluster without addresses", func(c *Config) { c.Cluster.Enabled = true }},
		{"negative region ttl", func(c *Config) { c.Regions = map[string]RegionConfig{"member": {TTL: -time.Second}} }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			cfg.Enabled = true
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())

			_, err := NewManager(cfg)
			require.Error(t, err)
		})
	}
}

func TestRegionSettings(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Regions = map[string]RegionConfig{
		"member": {TTL: time.Minute},
		"audit":  {Disabled: true},
	}
	require.Equal(t, time.Minute, cfg.RegionTTL("member"))
	require.Equal(t, time.Hour, cfg.RegionTTL("team"))
	require.False(t, cfg.RegionEnabled("audit"))
	require.True(t, cfg.RegionEnabled("team"))
	require.Equal(t, "localhost:6379", cfg.GetAddr())
}

func TestMetricsSnapshot(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.RecordHit("member", 2*time.Millisecond)
	m.RecordHit("member", 4*time.Millisecond)
	m.RecordHit("team", 3*time.Millisecond)
	m.RecordMiss("team", 3*time.Millisecond)
	m.RecordFill("team", true, time.Millisecond)
	m.RecordFill("team", false, time.Millisecond)
	m.RecordEviction("member", 5*time.Millisecond)
	m.RecordInvalidation("tag")
	m.RecordCompression(100)
	m.RecordError()

	snapshot := m.GetSnapshot()
	require.Equal(t, uint64(3), snapshot.CacheHits)
	require.InDelta(t, 75.0, snapshot.CacheHitRate, 0.001)
	require.Equal(t, 3*time.Millisecond, snapshot.AvgGetLatency)
	require.Equal(t, time.Millisecond, snapshot.AvgFillLatency)
	require.Equal(t, 5*time.Millisecond, snapshot.AvgEvictLatency)
	require.Equal(t, uint64(1), snapshot.Fills)
	require.Equal(t, uint64(1), snapshot.RefusedFills)
	require.Equal(t, uint64(1), snapshot.Evictions)
	require.Equal(t, uint64(1), snapshot.Invalidations)
	require.Equal(t, uint64(100), snapshot.CompressionBytesSaved)
	require.Equal(t, uint64(1), snapshot.CacheErrors)

	require.Len(t, snapshot.Regions, 3)
	require.Equal(t, RegionStats{Hits: 2, HitRate: 100, Evictions: 1}, snapshot.Regions["member"])
	require.InDelta(t, 50.0, snapshot.Regions["team"].HitRate, 0.001)
	require.Equal(t, uint64(1), snapshot.Regions["tag"].Invalidations)

	m.Reset()
	require.Equal(t, MetricsSnapshot{}, m.GetSnapshot())
}
