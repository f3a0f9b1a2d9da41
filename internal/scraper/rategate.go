package scraper

import (
	"context"
	"math/rand"
	"time"

	"github.com/jonesrussell/asinscrape/internal/domain"
)

// RateGateConfig holds pacing settings.
type RateGateConfig struct {
	// ItemDelay is the base delay before each worker's fetch.
	ItemDelay time.Duration
	// BatchPause is the base delay between batches.
	BatchPause time.Duration
	// JitterFraction widens each delay by a random factor in [0, JitterFraction].
	JitterFraction float64
	// DegradedBackoff multiplies the batch pause when health is degraded.
	DegradedBackoff float64
	// UnhealthyBackoff multiplies the batch pause when health is unhealthy.
	UnhealthyBackoff float64
}

// RateGate paces fetches within a batch and pauses between batches. Delays
// are randomized within a band so the fetch pattern does not look automated,
// and widen when the health monitor reports a degraded or unhealthy upstream.
// The gate only slows the job down; it never terminates it.
type RateGate struct {
	cfg RateGateConfig
}

// NewRateGate creates a rate gate with the given pacing settings.
func NewRateGate(cfg RateGateConfig) *RateGate {
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	if cfg.DegradedBackoff < 1 {
		cfg.DegradedBackoff = 1
	}
	if cfg.UnhealthyBackoff < cfg.DegradedBackoff {
		cfg.UnhealthyBackoff = cfg.DegradedBackoff
	}
	return &RateGate{cfg: cfg}
}

// ItemDelay returns the jittered delay to apply before a single fetch.
func (g *RateGate) ItemDelay() time.Duration {
	return g.jittered(g.cfg.ItemDelay, 1)
}

// BatchDelay returns the jittered delay to apply between batches, widened by
// the backoff multiplier for the given health status.
func (g *RateGate) BatchDelay(status domain.HealthStatus) time.Duration {
	switch status {
	case domain.HealthStatusDegraded:
		return g.jittered(g.cfg.BatchPause, g.cfg.DegradedBackoff)
	case domain.HealthStatusUnhealthy:
		return g.jittered(g.cfg.BatchPause, g.cfg.UnhealthyBackoff)
	default:
		return g.jittered(g.cfg.BatchPause, 1)
	}
}

// Concurrency returns the worker pool size to use for the next batch. An
// unhealthy upstream is fetched serially until health recovers.
func (g *RateGate) Concurrency(base int, status domain.HealthStatus) int {
	if status == domain.HealthStatusUnhealthy {
		return 1
	}
	if base < 1 {
		return 1
	}
	return base
}

// WaitBetweenItems sleeps for the inter-item delay, returning early if the
// context is cancelled.
func (g *RateGate) WaitBetweenItems(ctx context.Context) error {
	return g.wait(ctx, g.ItemDelay())
}

// WaitBetweenBatches sleeps for the inter-batch delay, returning early if the
// context is cancelled.
func (g *RateGate) WaitBetweenBatches(ctx context.Context, status domain.HealthStatus) error {
	return g.wait(ctx, g.BatchDelay(status))
}

func (g *RateGate) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// jittered widens a base duration by a multiplier plus random jitter.
func (g *RateGate) jittered(base time.Duration, mult float64) time.Duration {
	if base <= 0 {
		return 0
	}
	factor := mult * (1 + rand.Float64()*g.cfg.JitterFraction)
	return time.Duration(float64(base) * factor)
}
