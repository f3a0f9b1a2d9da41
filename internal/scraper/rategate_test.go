package scraper_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/asinscrape/internal/domain"
	"github.com/jonesrussell/asinscrape/internal/scraper"
)

func newTestRateGate() *scraper.RateGate {
	return scraper.NewRateGate(scraper.RateGateConfig{
		ItemDelay:        100 * time.Millisecond,
		BatchPause:       time.Second,
		JitterFraction:   0.5,
		DegradedBackoff:  3,
		UnhealthyBackoff: 6,
	})
}

func TestRateGateItemDelayJitterBand(t *testing.T) {
	t.Parallel()

	g := newTestRateGate()
	for i := 0; i < 50; i++ {
		d := g.ItemDelay()
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestRateGateBatchDelayBackoff(t *testing.T) {
	t.Parallel()

	g := newTestRateGate()

	healthy := g.BatchDelay(domain.HealthStatusHealthy)
	assert.GreaterOrEqual(t, healthy, time.Second)
	assert.LessOrEqual(t, healthy, 1500*time.Millisecond)

	// Degraded and unhealthy delays always exceed the widest healthy delay.
	degraded := g.BatchDelay(domain.HealthStatusDegraded)
	assert.GreaterOrEqual(t, degraded, 3*time.Second)
	assert.LessOrEqual(t, degraded, 4500*time.Millisecond)

	unhealthy := g.BatchDelay(domain.HealthStatusUnhealthy)
	assert.GreaterOrEqual(t, unhealthy, 6*time.Second)
	assert.LessOrEqual(t, unhealthy, 9*time.Second)
}

func TestRateGateConcurrency(t *testing.T) {
	t.Parallel()

	g := newTestRateGate()
	assert.Equal(t, 5, g.Concurrency(5, domain.HealthStatusHealthy))
	assert.Equal(t, 5, g.Concurrency(5, domain.HealthStatusDegraded))
	// Unhealthy upstreams are fetched serially.
	assert.Equal(t, 1, g.Concurrency(5, domain.HealthStatusUnhealthy))
	assert.Equal(t, 1, g.Concurrency(0, domain.HealthStatusHealthy))
}

func TestRateGateWaitCancellation(t *testing.T) {
	t.Parallel()

	g := scraper.NewRateGate(scraper.RateGateConfig{
		ItemDelay:  time.Minute,
		BatchPause: time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.WaitBetweenItems(ctx)
	require.ErrorIs(t, err, context.Canceled)

	err = g.WaitBetweenBatches(ctx, domain.HealthStatusHealthy)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRateGateZeroDelays(t *testing.T) {
	t.Parallel()

	g := scraper.NewRateGate(scraper.RateGateConfig{})
	assert.Zero(t, g.ItemDelay())
	require.NoError(t, g.WaitBetweenItems(context.Background()))
}

func TestRateGateConfigClamping(t *testing.T) {
	t.Parallel()

	// A misconfigured unhealthy backoff below the degraded backoff is lifted
	// so backoff never shrinks as health worsens.
	g := scraper.NewRateGate(scraper.RateGateConfig{
		BatchPause:       time.Second,
		DegradedBackoff:  4,
		UnhealthyBackoff: 2,
	})
	assert.GreaterOrEqual(t,
		g.BatchDelay(domain.HealthStatusUnhealthy),
		g.BatchDelay(domain.HealthStatusDegraded)-time.Millisecond)
}
