package metrics_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/asinscrape/internal/metrics"
)

func TestMetricsRecording(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.RecordFetch(true, false)
	m.RecordFetch(false, false)
	m.RecordFetch(false, true)
	m.RecordSkip()
	m.RecordBatch()

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.FetchesSucceeded)
	assert.Equal(t, int64(2), snap.FetchesFailed)
	assert.Equal(t, int64(1), snap.FetchesRateLimited)
	assert.Equal(t, int64(1), snap.ItemsSkipped)
	assert.Equal(t, int64(1), snap.BatchesRun)
	assert.False(t, snap.LastFetchAt.IsZero())
	assert.False(t, snap.StartTime.IsZero())
}

func TestMetricsConcurrentAccess(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				m.RecordFetch(true, false)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1000), m.Snapshot().FetchesSucceeded)
}
