package scraper_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/asinscrape/internal/domain"
	"github.com/jonesrussell/asinscrape/internal/fetcher"
	"github.com/jonesrussell/asinscrape/internal/logger"
	"github.com/jonesrussell/asinscrape/internal/metrics"
	"github.com/jonesrussell/asinscrape/internal/scraper"
)

// stubStore is an in-memory scraper.Store.
type stubStore struct {
	mu       sync.Mutex
	jobs     map[string]*domain.Job
	order    []string
	saves    int
	failFrom int // fail every SaveCheckpoint once saves >= failFrom (0 disables)
}

func newStubStore() *stubStore {
	return &stubStore{jobs: make(map[string]*domain.Job)}
}

func (s *stubStore) SaveCheckpoint(ctx context.Context, job *domain.Job) error {
	// A real store rejects writes on a dead context before touching the
	// database.
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.saves++
	if s.failFrom > 0 && s.saves >= s.failFrom {
		return errors.New("store unavailable")
	}

	cp := *job
	cp.Items = make([]domain.Item, len(job.Items))
	copy(cp.Items, job.Items)
	if _, known := s.jobs[job.ID]; !known {
		s.order = append(s.order, job.ID)
	}
	s.jobs[job.ID] = &cp
	return nil
}

func (s *stubStore) LoadJob(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", scraper.ErrJobNotFound, id)
	}
	cp := *job
	cp.Items = make([]domain.Item, len(job.Items))
	copy(cp.Items, job.Items)
	return &cp, nil
}

func (s *stubStore) LoadMostRecentPaused(_ context.Context) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.order) - 1; i >= 0; i-- {
		job := s.jobs[s.order[i]]
		if job.Status.IsResumable() {
			cp := *job
			cp.Items = make([]domain.Item, len(job.Items))
			copy(cp.Items, job.Items)
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: no paused job", scraper.ErrJobNotFound)
}

func (s *stubStore) savedStatus(id string) domain.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		return job.Status
	}
	return ""
}

// gatedFetcher blocks each fetch until the gate is opened, signalling starts.
// The gate can be shut again to block fetches after a resume.
type gatedFetcher struct {
	mu      sync.Mutex
	started chan struct{}
	release chan struct{}
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{
		started: make(chan struct{}, 100),
		release: make(chan struct{}),
	}
}

func (f *gatedFetcher) open() {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.release:
	default:
		close(f.release)
	}
}

func (f *gatedFetcher) shut() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.release = make(chan struct{})
}

func (f *gatedFetcher) Fetch(ctx context.Context, asin string) (*domain.Product, error) {
	f.mu.Lock()
	release := f.release
	f.mu.Unlock()

	select {
	case f.started <- struct{}{}:
	default:
	}
	select {
	case <-release:
		return &domain.Product{ASIN: asin, Title: "Product " + asin}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *gatedFetcher) waitStarted(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.started:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for fetches to start")
		}
	}
}

func testControllerConfig() scraper.ControllerConfig {
	return scraper.ControllerConfig{
		Batch: scraper.BatchConfig{BatchSize: 10, Concurrency: 5, MaxAttempts: 3},
		Health: scraper.HealthConfig{
			WindowSize:             20,
			DegradedThreshold:      0.25,
			UnhealthyThreshold:     0.5,
			MaxConsecutiveFailures: 5,
		},
		CheckpointRetries:    2,
		CheckpointRetryDelay: time.Millisecond,
	}
}

func newTestController(cfg scraper.ControllerConfig, store scraper.Store, f fetcher.Fetcher) *scraper.Controller {
	return scraper.NewController(cfg, store, f, &stubProductStore{}, nil, metrics.New(), logger.NewNoOp())
}

// waitForStatus polls the controller until the active job reaches the wanted
// status.
func waitForStatus(t *testing.T, c *scraper.Controller, want domain.JobStatus) *domain.Job {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if job := c.GetCurrentJob(); job != nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job := c.GetCurrentJob()
	t.Fatalf("timed out waiting for status %s, have %+v", want, job)
	return nil
}

// makeASINs generates n valid sequential ASINs.
func makeASINs(n int) []string {
	asins := make([]string, 0, n)
	for i := 0; i < n; i++ {
		asins = append(asins, fmt.Sprintf("B%09d", i))
	}
	return asins
}

func TestControllerStartValidation(t *testing.T) {
	t.Parallel()

	c := newTestController(testControllerConfig(), newStubStore(), &stubFetcher{})
	defer c.Shutdown(context.Background())

	t.Run("zero valid ASINs", func(t *testing.T) {
		job, rejected, err := c.Start([]string{"nope", "also-bad"})
		require.Error(t, err)
		assert.True(t, scraper.IsValidation(err))
		assert.Nil(t, job)
		assert.Equal(t, []string{"nope", "also-bad"}, rejected)
		assert.Nil(t, c.GetCurrentJob())
	})

	t.Run("empty input", func(t *testing.T) {
		_, _, err := c.Start(nil)
		assert.True(t, scraper.IsValidation(err))
	})
}

func TestControllerStartNormalizesAndDedupes(t *testing.T) {
	t.Parallel()

	c := newTestController(testControllerConfig(), newStubStore(), &stubFetcher{})
	defer c.Shutdown(context.Background())

	job, rejected, err := c.Start([]string{
		"B000000001",
		" b000000001 ",
		"B000000002",
		"garbage",
	})
	require.NoError(t, err)
	assert.Len(t, job.Items, 2)
	assert.Equal(t, []string{"garbage"}, rejected)

	final := waitForStatus(t, c, domain.JobStatusCompleted)
	assert.Equal(t, 2, final.Counts().Succeeded)
}

func TestControllerSingleActiveJob(t *testing.T) {
	t.Parallel()

	f := newGatedFetcher()
	c := newTestController(testControllerConfig(), newStubStore(), f)
	defer c.Shutdown(context.Background())

	job, _, err := c.Start(makeASINs(5))
	require.NoError(t, err)
	f.waitStarted(t, 1)

	_, _, err = c.Start(makeASINs(3))
	require.Error(t, err)
	assert.True(t, scraper.IsConflict(err))

	var conflict *scraper.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, job.ID, conflict.ActiveJobID)

	// Resume is blocked by the same single-job rule.
	_, err = c.Resume("whatever")
	assert.True(t, scraper.IsConflict(err))

	f.open()
	waitForStatus(t, c, domain.JobStatusCompleted)
}

func TestControllerRunsJobToCompletion(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	c := newTestController(testControllerConfig(), store, &stubFetcher{})
	defer c.Shutdown(context.Background())

	job, _, err := c.Start(makeASINs(50))
	require.NoError(t, err)

	final := waitForStatus(t, c, domain.JobStatusCompleted)
	counts := final.Counts()
	assert.Equal(t, 50, counts.Total)
	assert.Equal(t, 50, counts.Succeeded)
	assert.Zero(t, counts.Pending)
	// 50 items at batch size 10 is exactly 5 batches.
	assert.Equal(t, 5, final.CurrentBatchIndex)
	assert.NotNil(t, final.CompletedAt)

	// The terminal state is checkpointed.
	assert.Equal(t, domain.JobStatusCompleted, store.savedStatus(job.ID))
}

func TestControllerRetryExhaustion(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{fetchFunc: func(_ context.Context, _ string) (*domain.Product, error) {
		return nil, &fetcher.Error{Kind: fetcher.KindRateLimited, Retryable: true, Message: "throttled"}
	}}
	c := newTestController(testControllerConfig(), newStubStore(), f)
	defer c.Shutdown(context.Background())

	_, _, err := c.Start(makeASINs(4))
	require.NoError(t, err)

	final := waitForStatus(t, c, domain.JobStatusCompleted)
	counts := final.Counts()
	assert.Equal(t, 4, counts.Failed)
	assert.Zero(t, counts.Succeeded)
	for _, item := range final.Items {
		// Exactly MaxAttempts attempts, never more.
		assert.Equal(t, 3, item.Attempts)
		require.NotNil(t, item.LastError)
	}
}

func TestControllerPauseAndResume(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	f := newGatedFetcher()
	c := newTestController(testControllerConfig(), store, f)
	defer c.Shutdown(context.Background())

	job, _, err := c.Start(makeASINs(5))
	require.NoError(t, err)
	f.waitStarted(t, 1)

	paused, err := c.Pause()
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPausing, paused.Status)

	// Pausing again while draining is a no-op.
	again, err := c.Pause()
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPausing, again.Status)

	f.open()
	settled := waitForStatus(t, c, domain.JobStatusPaused)
	assert.NotNil(t, settled.PausedAt)
	assert.Equal(t, domain.JobStatusPaused, store.savedStatus(job.ID))

	resumed, err := c.Resume(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, resumed.Status)
	assert.Equal(t, job.ID, resumed.ID)

	final := waitForStatus(t, c, domain.JobStatusCompleted)
	assert.Equal(t, 5, final.Counts().Succeeded)
}

func TestControllerStopAndResume(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	f := newGatedFetcher()
	c := newTestController(testControllerConfig(), store, f)
	defer c.Shutdown(context.Background())

	job, _, err := c.Start(makeASINs(50))
	require.NoError(t, err)
	f.waitStarted(t, 5)

	stopped, err := c.Stop()
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusStopping, stopped.Status)

	f.open()
	settled := waitForStatus(t, c, domain.JobStatusStopped)

	counts := settled.Counts()
	// In-flight fetches drained; unstarted claims went back to pending.
	assert.Zero(t, counts.InProgress)
	assert.Positive(t, counts.Pending)
	assert.Equal(t, 50, counts.Pending+counts.Succeeded)
	assert.Equal(t, domain.JobStatusStopped, store.savedStatus(job.ID))

	// Resume with an empty id picks up the most recently interrupted job.
	resumed, err := c.Resume("")
	require.NoError(t, err)
	assert.Equal(t, job.ID, resumed.ID)

	final := waitForStatus(t, c, domain.JobStatusCompleted)
	assert.Equal(t, 50, final.Counts().Succeeded)
}

func TestControllerResumeErrors(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	completedAt := time.Now()
	require.NoError(t, store.SaveCheckpoint(context.Background(), &domain.Job{
		ID:          "done-job",
		Status:      domain.JobStatusCompleted,
		CompletedAt: &completedAt,
	}))

	c := newTestController(testControllerConfig(), store, &stubFetcher{})
	defer c.Shutdown(context.Background())

	t.Run("unknown job id", func(t *testing.T) {
		_, err := c.Resume("missing")
		require.ErrorIs(t, err, scraper.ErrJobNotFound)
	})

	t.Run("no resumable job", func(t *testing.T) {
		_, err := c.Resume("")
		require.ErrorIs(t, err, scraper.ErrJobNotFound)
	})

	t.Run("completed job is not resumable", func(t *testing.T) {
		_, err := c.Resume("done-job")
		require.Error(t, err)
		assert.True(t, scraper.IsValidation(err))
	})
}

func TestControllerSignalsWithoutJob(t *testing.T) {
	t.Parallel()

	c := newTestController(testControllerConfig(), newStubStore(), &stubFetcher{})
	defer c.Shutdown(context.Background())

	_, err := c.Pause()
	require.ErrorIs(t, err, scraper.ErrNoActiveJob)

	_, err = c.Stop()
	require.ErrorIs(t, err, scraper.ErrNoActiveJob)
}

func TestControllerCheckpointFailureFailsJob(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	// Let the initial save through, fail every checkpoint after it.
	store.failFrom = 2

	c := newTestController(testControllerConfig(), store, &stubFetcher{})
	defer c.Shutdown(context.Background())

	_, _, err := c.Start(makeASINs(5))
	require.NoError(t, err)

	final := waitForStatus(t, c, domain.JobStatusFailed)
	require.NotNil(t, final.ErrorMessage)
	assert.Contains(t, *final.ErrorMessage, "checkpoint failed")
}

func TestControllerGetJobPrefersActiveSnapshot(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	f := newGatedFetcher()
	c := newTestController(testControllerConfig(), store, f)
	defer c.Shutdown(context.Background())

	job, _, err := c.Start(makeASINs(3))
	require.NoError(t, err)
	f.waitStarted(t, 1)

	got, err := c.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.True(t, got.Status.IsActive())

	_, err = c.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, scraper.ErrJobNotFound)

	f.open()
	waitForStatus(t, c, domain.JobStatusCompleted)
}

func TestControllerShutdownCheckpointsAsPaused(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	f := newGatedFetcher()
	c := newTestController(testControllerConfig(), store, f)

	job, _, err := c.Start(makeASINs(20))
	require.NoError(t, err)
	f.waitStarted(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))

	// The paused checkpoint lands even though shutdown already cancelled the
	// controller context, and the store enforces context liveness.
	saved, err := store.LoadJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPaused, saved.Status)
	assert.True(t, saved.Status.IsResumable())
	for _, item := range saved.Items {
		// Fetches cut short by shutdown leave no trace on their items.
		assert.Equal(t, domain.ItemStatusPending, item.Status)
		assert.Zero(t, item.Attempts)
		assert.Nil(t, item.LastError)
	}

	// A restarted process picks the job up again and finishes it.
	f.open()
	c2 := newTestController(testControllerConfig(), store, f)
	defer c2.Shutdown(context.Background())

	resumed, err := c2.Resume("")
	require.NoError(t, err)
	assert.Equal(t, job.ID, resumed.ID)

	final := waitForStatus(t, c2, domain.JobStatusCompleted)
	assert.Equal(t, 20, final.Counts().Succeeded)
}

func TestControllerPauseResumePauseKeepsItems(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	f := newGatedFetcher()
	c := newTestController(testControllerConfig(), store, f)

	job, _, err := c.Start(makeASINs(20))
	require.NoError(t, err)
	f.waitStarted(t, 5)

	_, err = c.Pause()
	require.NoError(t, err)
	f.open()
	first := waitForStatus(t, c, domain.JobStatusPaused)

	counts := first.Counts()
	assert.Equal(t, 10, counts.Succeeded)
	assert.Equal(t, 10, counts.Pending)

	// Resume with the gate shut so no fetch can finish, then interrupt again
	// before any new batch completes.
	f.shut()
	resumed, err := c.Resume(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, resumed.Status)

	_, err = c.Pause()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))

	second, err := store.LoadJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPaused, second.Status)
	// Nothing was double-processed and nothing was lost.
	assert.Equal(t, first.Items, second.Items)

	// The job still runs to completion, without refetching finished items.
	f.open()
	c2 := newTestController(testControllerConfig(), store, f)
	defer c2.Shutdown(context.Background())

	_, err = c2.Resume(job.ID)
	require.NoError(t, err)
	final := waitForStatus(t, c2, domain.JobStatusCompleted)
	assert.Equal(t, 20, final.Counts().Succeeded)
	for _, item := range final.Items {
		assert.Equal(t, 1, item.Attempts)
	}
}
