// Package metrics provides metrics collection and reporting functionality.
package metrics

import (
	"sync"
	"time"
)

// Metrics holds process-lifetime scrape counters.
type Metrics struct {
	// FetchesSucceeded is the number of successful fetches.
	FetchesSucceeded int64
	// FetchesFailed is the number of failed fetch attempts.
	FetchesFailed int64
	// FetchesRateLimited is the number of rate-limited fetch attempts.
	FetchesRateLimited int64
	// ItemsSkipped is the number of items served from cache.
	ItemsSkipped int64
	// BatchesRun is the number of completed batches.
	BatchesRun int64
	// LastFetchAt is the time of the last fetch attempt.
	LastFetchAt time.Time
	// StartTime is when metrics collection began.
	StartTime time.Time
	// mu protects concurrent access to metrics.
	mu sync.Mutex
}

// New creates a new Metrics instance.
func New() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

// RecordFetch records one fetch attempt outcome.
func (m *Metrics) RecordFetch(success, rateLimited bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastFetchAt = time.Now()
	if success {
		m.FetchesSucceeded++
		return
	}
	m.FetchesFailed++
	if rateLimited {
		m.FetchesRateLimited++
	}
}

// RecordSkip records a cache-served item.
func (m *Metrics) RecordSkip() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ItemsSkipped++
}

// RecordBatch records a completed batch.
func (m *Metrics) RecordBatch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchesRun++
}

// SnapshotCounts is a point-in-time copy of the counters.
type SnapshotCounts struct {
	FetchesSucceeded   int64     `json:"fetches_succeeded"`
	FetchesFailed      int64     `json:"fetches_failed"`
	FetchesRateLimited int64     `json:"fetches_rate_limited"`
	ItemsSkipped       int64     `json:"items_skipped"`
	BatchesRun         int64     `json:"batches_run"`
	LastFetchAt        time.Time `json:"last_fetch_at"`
	StartTime          time.Time `json:"start_time"`
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() SnapshotCounts {
	m.mu.Lock()
	defer m.mu.Unlock()

	return SnapshotCounts{
		FetchesSucceeded:   m.FetchesSucceeded,
		FetchesFailed:      m.FetchesFailed,
		FetchesRateLimited: m.FetchesRateLimited,
		ItemsSkipped:       m.ItemsSkipped,
		BatchesRun:         m.BatchesRun,
		LastFetchAt:        m.LastFetchAt,
		StartTime:          m.StartTime,
	}
}
