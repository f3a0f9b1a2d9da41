package domain

import (
	"time"
)

// HealthStatus represents the derived health of the upstream source.
type HealthStatus string

const (
	// HealthStatusHealthy means the windowed failure rate is below the low threshold.
	HealthStatusHealthy HealthStatus = "healthy"
	// HealthStatusDegraded means the failure rate is between the thresholds.
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusUnhealthy means the failure rate is at or above the high
	// threshold, or consecutive failures hit the hard cap.
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// String returns the string representation of the health status.
func (s HealthStatus) String() string {
	return string(s)
}

// HealthSnapshot is a read-only view of scraper health for operational
// surfaces. Reads have no side effects.
type HealthSnapshot struct {
	Status              HealthStatus `json:"status"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	WindowFailureRate   float64      `json:"window_failure_rate"`
	WindowSize          int          `json:"window_size"`
	LastSuccessAt       *time.Time   `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time   `json:"last_failure_at,omitempty"`
}
