package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// regionCounters counts the traffic of one region
type regionCounters struct {
	hits          atomic.Uint64
	misses        atomic.Uint64
	fills         atomic.Uint64
	refusedFills  atomic.Uint64
	evictions     atomic.Uint64
	invalidations atomic.Uint64
}

// latency accumulates the count and total duration of one operation kind
type latency struct {
	count atomic.Uint64
	total atomic.Uint64
}

func (l *latency) record(d time.Duration) {
	l.count.Add(1)
	l.total.Add(uint64(d.Nanoseconds()))
}

func (l *latency) average() time.Duration {
	n := l.count.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(l.total.Load() / n)
}

func (l *latency) reset() {
	l.count.Store(0)
	l.total.Store(0)
}

// Metrics tracks cache traffic per region. Totals are derived from the
// region counters when a snapshot is taken.
type Metrics struct {
	mu      sync.RWMutex
	regions map[string]*regionCounters

	errors           atomic.Uint64
	compressionSaves atomic.Uint64

	gets      latency
	fills     latency
	evictions latency
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{regions: make(map[string]*regionCounters)}
}

func (m *Metrics) region(name string) *regionCounters {
	m.mu.RLock()
	rc, ok := m.regions[name]
	m.mu.RUnlock()
	if ok {
		return rc
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if rc, ok = m.regions[name]; !ok {
		rc = &regionCounters{}
		m.regions[name] = rc
	}
	return rc
}

// RecordHit records a read that found an entry
func (m *Metrics) RecordHit(region string, d time.Duration) {
	m.region(region).hits.Add(1)
	m.gets.record(d)
}

// RecordMiss records a read that found nothing
func (m *Metrics) RecordMiss(region string, d time.Duration) {
	m.region(region).misses.Add(1)
	m.gets.record(d)
}

// RecordFill records an attempted put. Refused puts were rejected by a newer
// eviction or an existing entry.
func (m *Metrics) RecordFill(region string, stored bool, d time.Duration) {
	rc := m.region(region)
	if stored {
		rc.fills.Add(1)
	} else {
		rc.refusedFills.Add(1)
	}
	m.fills.record(d)
}

// RecordEviction records the removal of one entry
func (m *Metrics) RecordEviction(region string, d time.Duration) {
	m.region(region).evictions.Add(1)
	m.evictions.record(d)
}

// RecordInvalidation records the removal of a whole region
func (m *Metrics) RecordInvalidation(region string) {
	m.region(region).invalidations.Add(1)
}

// RecordError increments the error counter
func (m *Metrics) RecordError() {
	m.errors.Add(1)
}

// RecordCompression records bytes saved via compression
func (m *Metrics) RecordCompression(bytesSaved uint64) {
	m.compressionSaves.Add(bytesSaved)
}

// GetSnapshot returns a snapshot of current metrics
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	snapshot := MetricsSnapshot{
		CacheErrors:           m.errors.Load(),
		AvgGetLatency:         m.gets.average(),
		AvgFillLatency:        m.fills.average(),
		AvgEvictLatency:       m.evictions.average(),
		CompressionBytesSaved: m.compressionSaves.Load(),
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, rc := range m.regions {
		stats := RegionStats{
			Hits:          rc.hits.Load(),
			Misses:        rc.misses.Load(),
			Fills:         rc.fills.Load(),
			RefusedFills:  rc.refusedFills.Load(),
			Evictions:     rc.evictions.Load(),
			Invalidations: rc.invalidations.Load(),
		}
		stats.HitRate = hitRate(stats.Hits, stats.Misses)

		snapshot.CacheHits += stats.Hits
		snapshot.CacheMisses += stats.Misses
		snapshot.Fills += stats.Fills
		snapshot.RefusedFills += stats.RefusedFills
		snapshot.Evictions += stats.Evictions
		snapshot.Invalidations += stats.Invalidations
		if snapshot.Regions == nil {
			snapshot.Regions = make(map[string]RegionStats, len(m.regions))
		}
		snapshot.Regions[name] = stats
	}
	snapshot.CacheHitRate = hitRate(snapshot.CacheHits, snapshot.CacheMisses)
	return snapshot
}

func hitRate(hits, misses uint64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses) * 100
}

// Reset resets all metrics counters
func (m *Metrics) Reset() {
	m.mu.Lock()
	m.regions = make(map[string]*regionCounters)
	m.mu.Unlock()

	m.errors.Store(0)
	m.compressionSaves.Store(0)
	m.gets.reset()
	m.fills.reset()
	m.evictions.reset()
}

// RegionStats is the traffic of one region
type RegionStats struct {
	Hits          uint64
	Misses        uint64
	HitRate       float64 // Percentage
	Fills         uint64
	RefusedFills  uint64
	Evictions     uint64
	Invalidations uint64
}

// MetricsSnapshot represents a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	CacheHits    uint64
	CacheMisses  uint64
	CacheErrors  uint64
	CacheHitRate float64 // Percentage

	Fills         uint64
	RefusedFills  uint64
	Evictions     uint64
	Invalidations uint64

	AvgGetLatency   time.Duration
	AvgFillLatency  time.Duration
	AvgEvictLatency time.Duration

	CompressionBytesSaved uint64

	// Regions is nil until a region sees traffic
	Regions map[string]RegionStats
}
