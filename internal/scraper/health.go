package scraper

import (
	"sync"
	"time"

	"github.com/jonesrussell/asinscrape/internal/domain"
)

// HealthConfig holds the thresholds for deriving health status.
type HealthConfig struct {
	// WindowSize is the rolling outcome window capacity.
	WindowSize int
	// DegradedThreshold is the windowed failure rate at which health degrades.
	DegradedThreshold float64
	// UnhealthyThreshold is the windowed failure rate at which health is unhealthy.
	UnhealthyThreshold float64
	// MaxConsecutiveFailures short-circuits health to unhealthy regardless of
	// the window rate, guarding against a sudden total outage that has not
	// filled the window yet.
	MaxConsecutiveFailures int
}

// HealthMonitor tracks fetch outcomes in a fixed-capacity rolling window and
// derives a health status from the failure rate. It is mutated only through
// Record, which the batch runner calls from its single aggregation point.
type HealthMonitor struct {
	mu  sync.RWMutex
	cfg HealthConfig

	// window is a ring buffer of outcomes; true marks a failure.
	window []bool
	head   int
	size   int

	consecutiveFailures int
	lastSuccessAt       *time.Time
	lastFailureAt       *time.Time
}

// NewHealthMonitor creates a health monitor with the given thresholds.
func NewHealthMonitor(cfg HealthConfig) *HealthMonitor {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 20
	}
	return &HealthMonitor{
		cfg:    cfg,
		window: make([]bool, cfg.WindowSize),
	}
}

// Record adds one fetch outcome to the window. The oldest outcome is evicted
// once the window is full.
func (m *HealthMonitor) Record(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.window[m.head] = !success
	m.head = (m.head + 1) % len(m.window)
	if m.size < len(m.window) {
		m.size++
	}

	now := time.Now()
	if success {
		m.consecutiveFailures = 0
		m.lastSuccessAt = &now
	} else {
		m.consecutiveFailures++
		m.lastFailureAt = &now
	}
}

// Status returns the derived health status.
func (m *HealthMonitor) Status() domain.HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusLocked()
}

// Snapshot returns a read-only view of the current health state.
func (m *HealthMonitor) Snapshot() domain.HealthSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := domain.HealthSnapshot{
		Status:              m.statusLocked(),
		ConsecutiveFailures: m.consecutiveFailures,
		WindowFailureRate:   m.failureRateLocked(),
		WindowSize:          m.size,
	}
	if m.lastSuccessAt != nil {
		t := *m.lastSuccessAt
		snap.LastSuccessAt = &t
	}
	if m.lastFailureAt != nil {
		t := *m.lastFailureAt
		snap.LastFailureAt = &t
	}
	return snap
}

func (m *HealthMonitor) statusLocked() domain.HealthStatus {
	if m.cfg.MaxConsecutiveFailures > 0 && m.consecutiveFailures >= m.cfg.MaxConsecutiveFailures {
		return domain.HealthStatusUnhealthy
	}

	rate := m.failureRateLocked()
	switch {
	case rate >= m.cfg.UnhealthyThreshold && m.size > 0:
		return domain.HealthStatusUnhealthy
	case rate >= m.cfg.DegradedThreshold && m.size > 0:
		return domain.HealthStatusDegraded
	default:
		return domain.HealthStatusHealthy
	}
}

func (m *HealthMonitor) failureRateLocked() float64 {
	if m.size == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < m.size; i++ {
		if m.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(m.size)
}
