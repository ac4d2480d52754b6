package orm

import (
	"sync/atomic"
	"time"
)

// Metrics tracks engine activity across all sessions
type Metrics struct {
	sessions  atomic.Uint64
	commits   atomic.Uint64
	rollbacks atomic.Uint64

	statements     atomic.Uint64
	statementNanos atomic.Uint64
	flushes        atomic.Uint64
	rowsWritten    atomic.Uint64

	entitiesLoaded atomic.Uint64
	identityHits   atomic.Uint64
	lazyLoads      atomic.Uint64

	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64
	cacheErrors atomic.Uint64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordStatement records one backend round trip
func (m *Metrics) RecordStatement(duration time.Duration) {
	m.statements.Add(1)
	m.statementNanos.Add(uint64(duration.Nanoseconds()))
}

// RecordFlush records a flush and the rows it wrote
func (m *Metrics) RecordFlush(rows int) {
	m.flushes.Add(1)
	m.rowsWritten.Add(uint64(rows))
}

// GetSnapshot returns a snapshot of current metrics
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	statements := m.statements.Load()
	var avg time.Duration
	if statements > 0 {
		avg = time.Duration(m.statementNanos.Load() / statements)
	}

	hits := m.cacheHits.Load()
	misses := m.cacheMisses.Load()
	var hitRate float64
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses) * 100
	}

	return MetricsSnapshot{
		Sessions:            m.sessions.Load(),
		Commits:             m.commits.Load(),
		Rollbacks:           m.rollbacks.Load(),
		Statements:          statements,
		AvgStatementLatency: avg,
		Flushes:             m.flushes.Load(),
		RowsWritten:         m.rowsWritten.Load(),
		EntitiesLoaded:      m.entitiesLoaded.Load(),
		IdentityMapHits:     m.identityHits.Load(),
		LazyLoads:           m.lazyLoads.Load(),
		CacheHits:           hits,
		CacheMisses:         misses,
		CacheErrors:         m.cacheErrors.Load(),
		CacheHitRate:        hitRate,
	}
}

// Reset resets all metrics counters
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Uint64{
		&m.sessions, &m.commits, &m.rollbacks,
		&m.statements, &m.statementNanos, &m.flushes, &m.rowsWritten,
		&m.entitiesLoaded, &m.identityHits, &m.lazyLoads,
		&m.cacheHits, &m.cacheMisses, &m.cacheErrors,
	} {
		c.Store(0)
	}
}

// MetricsSnapshot represents a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	Sessions  uint64
	Commits   uint64
	Rollbacks uint64

	Statements          uint64
	AvgStatementLatency time.Duration
	Flushes             uint64
	RowsWritten         uint64

	EntitiesLoaded  uint64
	IdentityMapHits uint64
	LazyLoads       uint64

	CacheHits    uint64
	CacheMisses  uint64
	CacheErrors  uint64
	CacheHitRate float64 // Percentage
}
