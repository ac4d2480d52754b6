package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// Key layout. The region is wrapped in a hash tag so an entry and its stamp
// keys share a cluster slot and can be used by one script.
const (
	cacheKeySeparator = ":"
	cacheEntityPrefix = "entity"
	cacheStampPrefix  = "stamp"
	cacheSeqKey       = "seq"
)

// putScript stores an entry unless it exists or the entry or its region was
// evicted after the caller's stamp.
// KEYS: entry, entry stamp, region stamp. ARGV: stamp, value, ttl ms.
var putScript = redis.NewScript(`
local stamp = tonumber(ARGV[1])
local entry = tonumber(redis.call('GET', KEYS[2]) or '0')
local region = tonumber(redis.call('GET', KEYS[3]) or '0')
if entry > stamp or region > stamp then
	return 0
end
if redis.call('SET', KEYS[1], ARGV[2], 'NX', 'PX', ARGV[3]) then
	return 1
end
return 0
`)

// raiseScript moves a stamp key forward, never back.
// KEYS: stamp. ARGV: seq, ttl ms.
var raiseScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if tonumber(ARGV[1]) > current then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
end
return 1
`)

// Entry encodings, stored as the first byte of every cached value
const (
	encodingPlain byte = iota
	encodingGzip
)

// Manager stores entity column sets in Redis, one region per entity name
type Manager struct {
	config        *Config
	client        redis.UniversalClient
	clusterClient *redis.ClusterClient
	metrics       *Metrics
	logger        *slog.Logger
}

// NewManager creates a new Redis-backed entity cache
func NewManager(config *Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}

	manager := &Manager{
		config:  config,
		metrics: NewMetrics(),
		logger:  slog.Default(),
	}

	// Initialize Redis client based on configuration
	if err := manager.initializeClient(); err != nil {
		return nil, fmt.Errorf("failed to initialize redis client: %w", err)
	}

	return manager, nil
}

// NewManagerWithClient creates a cache over an already configured client
func NewManagerWithClient(config *Config, client redis.UniversalClient) *Manager {
	return &Manager{
		config:  config,
		client:  client,
		metrics: NewMetrics(),
		logger:  slog.Default(),
	}
}

// initializeClient sets up the Redis client based on configuration
func (m *Manager) initializeClient() error {
	if !m.config.Enabled {
		return nil // Skip initialization if cache is disabled
	}

	if m.config.IsClusterMode() {
		m.clusterClient = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:           m.config.Cluster.Addresses,
			Username:        m.config.Cluster.Username,
			Password:        m.config.Cluster.Password,
			PoolSize:        m.config.PoolSize,
			MinIdleConns:    m.config.MinIdleConns,
			ConnMaxLifetime: m.config.MaxConnAge,
			PoolTimeout:     m.config.PoolTimeout,
			ConnMaxIdleTime: m.config.IdleTimeout,
			ReadTimeout:     m.config.ReadTimeout,
			WriteTimeout:    m.config.WriteTimeout,
			DialTimeout:     m.config.DialTimeout,
		})
		m.client = m.clusterClient
	} else {
		m.client = redis.NewClient(&redis.Options{
			Addr:            m.config.GetAddr(),
			Password:        m.config.Password,
			DB:              m.config.Database,
			PoolSize:        m.config.PoolSize,
			MinIdleConns:    m.config.MinIdleConns,
			ConnMaxLifetime: m.config.MaxConnAge,
			PoolTimeout:     m.config.PoolTimeout,
			ConnMaxIdleTime: m.config.IdleTimeout,
			ReadTimeout:     m.config.ReadTimeout,
			WriteTimeout:    m.config.WriteTimeout,
			DialTimeout:     m.config.DialTimeout,
		})
	}

	return nil
}

// SetLogger replaces the logger used for hit, miss and invalidation logs
func (m *Manager) SetLogger(logger *slog.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Config returns the manager's configuration
func (m *Manager) Config() *Config {
	return m.config
}

// Close closes the Redis connection
func (m *Manager) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Ping tests the Redis connection
// Returns nil if cache is disabled (not an error condition)
// Returns ErrClientNotInitialized if client is not initialized
// Returns ErrConnectionFailed if ping fails
func (m *Manager) Ping(ctx context.Context) error {
	if !m.config.Enabled {
		return nil
	}
	if m.client == nil {
		return ErrClientNotInitialized
	}
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

// checkClient validates that cache is enabled and client is initialized
func (m *Manager) checkClient() error {
	if !m.config.Enabled {
		return ErrCacheDisabled
	}
	if m.client == nil {
		return ErrClientNotInitialized
	}
	return nil
}

func (m *Manager) key(parts ...string) string {
	return m.config.KeyPrefix + cacheKeySeparator + strings.Join(parts, cacheKeySeparator)
}

func hashTag(region string) string {
	return "{" + region + "}"
}

// EntryKey returns the Redis key of one cached entity
func (m *Manager) EntryKey(region string, id any) string {
	return m.key(cacheEntityPrefix, hashTag(region), fmt.Sprint(id))
}

// regionPattern matches every entry key of a region
func (m *Manager) regionPattern(region string) string {
	return m.key(cacheEntityPrefix, hashTag(region), "*")
}

func (m *Manager) entryStampKey(region string, id any) string {
	return m.key(cacheStampPrefix, hashTag(region), fmt.Sprint(id))
}

func (m *Manager) regionStampKey(region string) string {
	return m.key(cacheStampPrefix, hashTag(region))
}

func (m *Manager) seqKey() string {
	return m.key(cacheSeqKey)
}

// Stamp returns the current eviction sequence. A session takes it before it
// reads and passes it to PutEntry.
func (m *Manager) Stamp(ctx context.Context) (int64, error) {
	if err := m.checkClient(); err != nil {
		if errors.Is(err, ErrCacheDisabled) {
			return 0, nil
		}
		return 0, err
	}
	seq, err := m.client.Get(ctx, m.seqKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		m.metrics.RecordError()
		return 0, fmt.Errorf("redis stamp error: %w", err)
	}
	return seq, nil
}

// raise advances the eviction sequence and records it on stampKey
func (m *Manager) raise(ctx context.Context, stampKey string, ttl time.Duration) error {
	seq, err := m.client.Incr(ctx, m.seqKey()).Result()
	if err != nil {
		return err
	}
	return raiseScript.Run(ctx, m.client, []string{stampKey}, seq, ttl.Milliseconds()).Err()
}

// GetEntry returns the cached columns of one entity. The boolean is false on
// a miss, when the cache is disabled and when the region is excluded.
func (m *Manager) GetEntry(ctx context.Context, region string, id any) (map[string]any, bool, error) {
	if err := m.checkClient(); err != nil {
		if errors.Is(err, ErrCacheDisabled) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if !m.config.RegionEnabled(region) {
		return nil, false, nil
	}

	key := m.EntryKey(region, id)
	start := time.Now()
	data, err := m.client.Get(ctx, key).Bytes()

	if errors.Is(err, redis.Nil) {
		m.metrics.RecordMiss(region, time.Since(start))
		if m.config.Logging.LogCacheMisses {
			m.logger.DebugContext(ctx, "cache miss", "key", key)
		}
		return nil, false, nil
	}
	if err != nil {
		m.metrics.RecordError()
		return nil, false, fmt.Errorf("redis get error: %w", err)
	}

	columns, err := decodeEntry(data)
	if err != nil {
		m.metrics.RecordError()
		return nil, false, err
	}
	m.metrics.RecordHit(region, time.Since(start))
	if m.config.Logging.LogCacheHits {
		m.logger.DebugContext(ctx, "cache hit", "key", key)
	}
	return columns, true, nil
}

// PutEntry stores the columns of one entity with the region TTL. The put is
// skipped when the entry exists or when the entry or its region was evicted
// after stamp, so a reader holding an old snapshot cannot overwrite a newer
// commit.
func (m *Manager) PutEntry(ctx context.Context, region string, id any, stamp int64, columns map[string]any) error {
	if err := m.checkClient(); err != nil {
		if errors.Is(err, ErrCacheDisabled) {
			return nil
		}
		return err
	}
	if !m.config.RegionEnabled(region) {
		return nil
	}

	threshold := 0
	if m.config.Compression.Enabled {
		threshold = m.config.Compression.Threshold
	}
	data, saved, err := encodeEntry(columns, threshold)
	if err != nil {
		m.metrics.RecordError()
		return err
	}
	if saved > 0 {
		m.metrics.RecordCompression(uint64(saved))
	}

	keys := []string{m.EntryKey(region, id), m.entryStampKey(region, id), m.regionStampKey(region)}
	start := time.Now()
	stored, err := putScript.Run(ctx, m.client, keys, stamp, data, m.config.RegionTTL(region).Milliseconds()).Int()
	if err != nil {
		m.metrics.RecordError()
		return fmt.Errorf("redis put error: %w", err)
	}
	m.metrics.RecordFill(region, stored == 1, time.Since(start))
	return nil
}

// EvictEntry removes one cached entity and refuses later puts that carry an
// older stamp
func (m *Manager) EvictEntry(ctx context.Context, region string, id any) error {
	if err := m.checkClient(); err != nil {
		if errors.Is(err, ErrCacheDisabled) {
			return nil
		}
		return err
	}

	start := time.Now()
	if err := m.raise(ctx, m.entryStampKey(region, id), m.config.RegionTTL(region)); err != nil {
		m.metrics.RecordError()
		return fmt.Errorf("redis evict error: %w", err)
	}
	if err := m.client.Del(ctx, m.EntryKey(region, id)).Err(); err != nil {
		m.metrics.RecordError()
		return fmt.Errorf("redis delete error: %w", err)
	}
	m.metrics.RecordEviction(region, time.Since(start))
	return nil
}

// EvictRegion removes every cached entity of a region using SCAN instead of KEYS
// SCAN is non-blocking and production-safe, unlike KEYS which blocks the Redis server
func (m *Manager) EvictRegion(ctx context.Context, region string) error {
	if err := m.checkClient(); err != nil {
		if errors.Is(err, ErrCacheDisabled) {
			return nil
		}
		return err
	}

	if err := m.raise(ctx, m.regionStampKey(region), m.config.RegionTTL(region)); err != nil {
		m.metrics.RecordError()
		return fmt.Errorf("redis evict error: %w", err)
	}

	pattern := m.regionPattern(region)
	var removed atomic.Int64
	scan := func(ctx context.Context, client redis.UniversalClient) error {
		n, err := scanDelete(ctx, client, pattern)
		removed.Add(int64(n))
		return err
	}

	var err error
	if m.clusterClient != nil {
		err = m.clusterClient.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return scan(ctx, node)
		})
	} else {
		err = scan(ctx, m.client)
	}
	if err != nil {
		m.metrics.RecordError()
		return err
	}

	m.metrics.RecordInvalidation(region)
	if m.config.Logging.LogInvalidations {
		m.logger.InfoContext(ctx, "cache region invalidated", "region", region, "keys", removed.Load())
	}
	return nil
}

// scanDelete deletes every key matching pattern on one node
func scanDelete(ctx context.Context, client redis.UniversalClient, pattern string) (int, error) {
	var cursor uint64
	const scanBatchSize = 100
	removed := 0

	for {
		batch, next, err := client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to scan keys with pattern %s: %w", pattern, err)
		}

		// Delete keys in batches to avoid large atomic operations
		if len(batch) > 0 {
			if err := client.Del(ctx, batch...).Err(); err != nil {
				return removed, fmt.Errorf("failed to delete batch: %w", err)
			}
			removed += len(batch)
		}

		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// GetMetrics returns current cache metrics
func (m *Manager) GetMetrics() MetricsSnapshot {
	return m.metrics.GetSnapshot()
}

// ResetMetrics resets all cache metrics
func (m *Manager) ResetMetrics() {
	m.metrics.Reset()
}

// encodeEntry packs columns with msgpack, gzip-compressing values above the
// threshold. A threshold of zero disables compression. The second result is
// the number of bytes saved.
func encodeEntry(columns map[string]any, threshold int) ([]byte, int, error) {
	packed, err := msgpack.Marshal(columns)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}

	if threshold > 0 && len(packed) > threshold {
		compressed, err := compressData(packed)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
		}
		// Only use compression if it actually saves space
		if len(compressed) < len(packed) {
			return append([]byte{encodingGzip}, compressed...), len(packed) - len(compressed), nil
		}
	}
	return append([]byte{encodingPlain}, packed...), 0, nil
}

// decodeEntry reverses encodeEntry. Integers decode as int64.
func decodeEntry(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty entry", ErrSerializationFailed)
	}

	payload := data[1:]
	switch data[0] {
	case encodingPlain:
	case encodingGzip:
		var err error
		if payload, err = decompressData(payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown encoding %d", ErrSerializationFailed, data[0])
	}

	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	dec.UseLooseInterfaceDecoding(true)
	var columns map[string]any
	if err := dec.Decode(&columns); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	return columns, nil
}

// compressData compresses data using gzip
func compressData(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)

	if _, err := writer.Write(data); err != nil {
		return nil, err
	}

	if err := writer.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// decompressData decompresses gzip data
func decompressData(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}
