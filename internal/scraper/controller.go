package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/asinscrape/internal/domain"
	"github.com/jonesrussell/asinscrape/internal/fetcher"
	"github.com/jonesrussell/asinscrape/internal/logger"
	"github.com/jonesrussell/asinscrape/internal/metrics"
)

// finalCheckpointTimeout bounds rest-state checkpoint writes. These run on a
// detached context: shutdown cancels the controller context before the
// paused checkpoint lands, so inheriting it would lose the write.
const finalCheckpointTimeout = 30 * time.Second

// Store is the durable persistence contract for job state. Checkpoint writes
// must be idempotent: the controller retries them on transient failure.
type Store interface {
	SaveCheckpoint(ctx context.Context, job *domain.Job) error
	LoadJob(ctx context.Context, id string) (*domain.Job, error)
	// LoadMostRecentPaused returns the most recently interrupted resumable
	// job, or ErrJobNotFound when none exists.
	LoadMostRecentPaused(ctx context.Context) (*domain.Job, error)
}

// ControllerConfig holds the controller's pacing, retry, and health settings.
type ControllerConfig struct {
	Batch  BatchConfig
	Gate   RateGateConfig
	Health HealthConfig
	// CheckpointRetries bounds SaveCheckpoint retries before the job fails.
	CheckpointRetries int
	// CheckpointRetryDelay is the base delay between checkpoint retries.
	CheckpointRetryDelay time.Duration
}

// Controller owns the single active scrape job and drives its batch loop.
// All mutation of the active job passes through the controller's lock;
// Start, Pause, Stop, and Resume are asynchronous signals that return the
// job's updated snapshot immediately without waiting for batch completion.
type Controller struct {
	mu      sync.Mutex
	cfg     ControllerConfig
	store   Store
	runner  *BatchRunner
	health  *HealthMonitor
	gate    *RateGate
	metrics *metrics.Metrics
	logger  logger.Interface

	// ctx bounds the controller's lifetime; cancelled by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	current *activeJob
}

// activeJob is the in-memory state of the job occupying the active slot.
type activeJob struct {
	job   *domain.Job
	queue *ItemQueue

	// stopCtx is cancelled on Stop so pacing waits cut short and no new
	// worker fetch starts; in-flight fetches drain on the controller ctx.
	stopCtx    context.Context
	stopCancel context.CancelFunc

	pauseRequested atomic.Bool
	stopRequested  atomic.Bool

	done chan struct{}
}

// NewController creates the job controller. cache may be nil.
func NewController(
	cfg ControllerConfig,
	store Store,
	f fetcher.Fetcher,
	products ProductStore,
	cache ProductCache,
	m *metrics.Metrics,
	log logger.Interface,
) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	health := NewHealthMonitor(cfg.Health)
	gate := NewRateGate(cfg.Gate)

	return &Controller{
		cfg:     cfg,
		store:   store,
		runner:  NewBatchRunner(cfg.Batch, f, products, cache, gate, health, m, log),
		health:  health,
		gate:    gate,
		metrics: m,
		logger:  log.WithComponent("controller"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start validates and dedupes the given ASINs, creates a new job, persists
// it, and begins the batch loop. It returns the created job's snapshot plus
// the rejected inputs. A second Start while a job is active returns a
// ConflictError without creating any state; zero valid ASINs is a
// ValidationError.
func (c *Controller) Start(asins []string) (*domain.Job, []string, error) {
	valid, rejected := domain.ValidateASINs(asins)
	if len(valid) == 0 {
		return nil, rejected, &ValidationError{Message: "no valid ASINs", Rejected: rejected}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && c.current.job.Status.IsActive() {
		return nil, rejected, &ConflictError{ActiveJobID: c.current.job.ID}
	}

	now := time.Now().UTC()
	queue := NewItemQueue(valid)
	job := &domain.Job{
		ID:        uuid.NewString(),
		Status:    domain.JobStatusRunning,
		Items:     queue.Snapshot(),
		CreatedAt: now,
		StartedAt: &now,
	}

	if err := c.store.SaveCheckpoint(c.ctx, job); err != nil {
		return nil, rejected, fmt.Errorf("failed to persist new job: %w", err)
	}

	aj := c.install(job, queue)
	c.logger.Info("job started",
		"job_id", job.ID,
		"items", len(valid),
		"rejected", len(rejected))

	go c.runLoop(aj)
	return copyJob(job), rejected, nil
}

// Pause signals the batch loop to finish the in-flight batch and checkpoint.
// Pausing a job that is not running is a no-op returning the job's last
// known state.
func (c *Controller) Pause() (*domain.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return nil, ErrNoActiveJob
	}
	if c.current.job.Status != domain.JobStatusRunning {
		return copyJob(c.current.job), nil
	}

	c.current.job.Status = domain.JobStatusPausing
	c.current.pauseRequested.Store(true)
	c.logger.Info("pause requested", "job_id", c.current.job.ID)
	return copyJob(c.current.job), nil
}

// Stop signals the batch loop to abort as soon as in-flight fetches drain.
// Stopping a job that is not active is a no-op returning the job's last
// known state.
func (c *Controller) Stop() (*domain.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return nil, ErrNoActiveJob
	}
	status := c.current.job.Status
	if status != domain.JobStatusRunning && status != domain.JobStatusPausing {
		return copyJob(c.current.job), nil
	}

	c.current.job.Status = domain.JobStatusStopping
	c.current.stopRequested.Store(true)
	c.current.stopCancel()
	c.logger.Info("stop requested", "job_id", c.current.job.ID)
	return copyJob(c.current.job), nil
}

// Resume loads a checkpointed job (explicit id, or the most recently
// interrupted one) and restarts its batch loop. Items found in_progress are
// reset to pending since partial fetch side effects are not assumed durable.
func (c *Controller) Resume(jobID string) (*domain.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && c.current.job.Status.IsActive() {
		return nil, &ConflictError{ActiveJobID: c.current.job.ID}
	}

	var job *domain.Job
	var err error
	if jobID == "" {
		job, err = c.store.LoadMostRecentPaused(c.ctx)
	} else {
		job, err = c.store.LoadJob(c.ctx, jobID)
	}
	if err != nil {
		return nil, err
	}
	if !job.Status.IsResumable() {
		return nil, &ValidationError{
			Message: fmt.Sprintf("job %s is %s and cannot be resumed", job.ID, job.Status),
		}
	}

	job.ResetInProgress()
	job.Status = domain.JobStatusRunning
	queue := RestoreItemQueue(job.Items)

	if saveErr := c.store.SaveCheckpoint(c.ctx, job); saveErr != nil {
		return nil, fmt.Errorf("failed to persist resumed job: %w", saveErr)
	}

	aj := c.install(job, queue)
	c.logger.Info("job resumed",
		"job_id", job.ID,
		"batch_index", job.CurrentBatchIndex,
		"pending", queue.PendingCount())

	go c.runLoop(aj)
	return copyJob(job), nil
}

// GetCurrentJob returns a snapshot of the in-memory active job, or nil.
func (c *Controller) GetCurrentJob() *domain.Job {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return nil
	}
	c.syncItemsLocked(c.current)
	return copyJob(c.current.job)
}

// GetJob reads a job by id. It works for historical jobs as well as the
// active one, preferring the fresher in-memory snapshot for the latter.
func (c *Controller) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	c.mu.Lock()
	if c.current != nil && c.current.job.ID == id {
		c.syncItemsLocked(c.current)
		job := copyJob(c.current.job)
		c.mu.Unlock()
		return job, nil
	}
	c.mu.Unlock()

	return c.store.LoadJob(ctx, id)
}

// Health returns a read-only snapshot of scraper health.
func (c *Controller) Health() domain.HealthSnapshot {
	return c.health.Snapshot()
}

// Shutdown stops the controller's lifetime context and waits for the active
// job loop to exit. The loop checkpoints the job as paused so a restarted
// process can resume it.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.cancel()

	c.mu.Lock()
	aj := c.current
	c.mu.Unlock()
	if aj == nil {
		return nil
	}

	select {
	case <-aj.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown wait: %w", ctx.Err())
	}
}

// install places a job into the active slot. Caller holds the lock.
func (c *Controller) install(job *domain.Job, queue *ItemQueue) *activeJob {
	stopCtx, stopCancel := context.WithCancel(c.ctx)
	aj := &activeJob{
		job:        job,
		queue:      queue,
		stopCtx:    stopCtx,
		stopCancel: stopCancel,
		done:       make(chan struct{}),
	}
	c.current = aj
	return aj
}

// runLoop is the job's dedicated control flow: claim a batch, run it, record
// health, checkpoint, pace, repeat. It exits on completion, pause, stop,
// systemic failure, persistence failure, or controller shutdown.
func (c *Controller) runLoop(aj *activeJob) {
	defer close(aj.done)
	defer aj.stopCancel()

	for {
		if c.handleSignals(aj) {
			return
		}
		if aj.queue.PendingCount() == 0 {
			c.complete(aj)
			return
		}

		summary, err := c.runner.RunBatch(c.ctx, aj.stopCtx, aj.queue)
		c.metrics.RecordBatch()
		if err != nil {
			c.fail(aj, err)
			return
		}

		c.mu.Lock()
		aj.job.CurrentBatchIndex++
		c.syncItemsLocked(aj)
		c.mu.Unlock()

		c.logger.Info("batch completed",
			"job_id", aj.job.ID,
			"batch_index", aj.job.CurrentBatchIndex,
			"succeeded", summary.Succeeded,
			"failed", summary.Failed,
			"retried", summary.Retried,
			"skipped", summary.Skipped,
			"health", summary.Health)

		// Pause, stop, shutdown, and completion write their own rest-state
		// checkpoint; the mid-run checkpoint below only happens when the
		// loop continues.
		if c.handleSignals(aj) {
			return
		}
		if aj.queue.PendingCount() == 0 {
			c.complete(aj)
			return
		}

		if ckErr := c.checkpointWithRetry(c.ctx, aj); ckErr != nil {
			c.fail(aj, ckErr)
			return
		}

		if waitErr := c.gate.WaitBetweenBatches(aj.stopCtx, c.health.Status()); waitErr != nil {
			// Interrupted pacing means a stop or shutdown arrived; the next
			// iteration's signal check performs the transition.
			continue
		}
	}
}

// handleSignals performs the pause/stop/shutdown transitions observed at
// batch boundaries. Returns true when the loop should exit.
func (c *Controller) handleSignals(aj *activeJob) bool {
	switch {
	case aj.stopRequested.Load():
		c.settle(aj, domain.JobStatusStopped)
		return true
	case aj.pauseRequested.Load():
		c.settle(aj, domain.JobStatusPaused)
		return true
	case c.ctx.Err() != nil:
		// Process shutdown: checkpoint as paused so a restart can resume.
		c.settle(aj, domain.JobStatusPaused)
		return true
	default:
		return false
	}
}

// settle transitions the job to a resumable rest state and persists the
// final checkpoint. A checkpoint that cannot be written escalates to failed.
func (c *Controller) settle(aj *activeJob, status domain.JobStatus) {
	c.mu.Lock()
	now := time.Now().UTC()
	aj.job.Status = status
	if status == domain.JobStatusPaused && aj.job.PausedAt == nil {
		aj.job.PausedAt = &now
	}
	c.syncItemsLocked(aj)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), finalCheckpointTimeout)
	defer cancel()
	if err := c.checkpointWithRetry(ctx, aj); err != nil {
		c.fail(aj, err)
		return
	}
	c.logger.Info("job settled", "job_id", aj.job.ID, "status", status)
}

// complete marks the job completed: every item reached a terminal state.
func (c *Controller) complete(aj *activeJob) {
	c.mu.Lock()
	now := time.Now().UTC()
	aj.job.Status = domain.JobStatusCompleted
	aj.job.CompletedAt = &now
	c.syncItemsLocked(aj)
	counts := aj.job.Counts()
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), finalCheckpointTimeout)
	defer cancel()
	if err := c.checkpointWithRetry(ctx, aj); err != nil {
		c.fail(aj, err)
		return
	}
	c.logger.Info("job completed",
		"job_id", aj.job.ID,
		"succeeded", counts.Succeeded,
		"failed", counts.Failed,
		"skipped", counts.Skipped)
}

// fail transitions the job to failed, preserving the last good checkpoint
// for inspection. The final write is best effort.
func (c *Controller) fail(aj *activeJob, cause error) {
	c.mu.Lock()
	now := time.Now().UTC()
	msg := cause.Error()
	aj.job.Status = domain.JobStatusFailed
	aj.job.ErrorMessage = &msg
	aj.job.CompletedAt = &now
	c.syncItemsLocked(aj)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), finalCheckpointTimeout)
	defer cancel()
	if err := c.store.SaveCheckpoint(ctx, aj.job); err != nil {
		c.logger.Error("failed to persist failed job state", "job_id", aj.job.ID, "error", err)
	}
	c.logger.Error("job failed", "job_id", aj.job.ID, "cause", cause)
}

// checkpointWithRetry persists the job snapshot, retrying transient store
// failures with a linear backoff before escalating.
func (c *Controller) checkpointWithRetry(ctx context.Context, aj *activeJob) error {
	c.mu.Lock()
	snapshot := copyJob(aj.job)
	c.mu.Unlock()

	attempts := c.cfg.CheckpointRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = c.store.SaveCheckpoint(ctx, snapshot)
		if lastErr == nil {
			return nil
		}
		c.logger.Warn("checkpoint write failed",
			"job_id", snapshot.ID,
			"attempt", attempt,
			"error", lastErr)
		if attempt < attempts {
			select {
			case <-time.After(c.cfg.CheckpointRetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return fmt.Errorf("checkpoint aborted: %w", ctx.Err())
			}
		}
	}
	return fmt.Errorf("checkpoint failed after %d attempts: %w", attempts, lastErr)
}

// syncItemsLocked refreshes the job's item list from the queue. Caller holds
// the lock.
func (c *Controller) syncItemsLocked(aj *activeJob) {
	aj.job.Items = aj.queue.Snapshot()
}

// copyJob returns a deep copy safe to hand to callers.
func copyJob(job *domain.Job) *domain.Job {
	cp := *job
	cp.Items = make([]domain.Item, len(job.Items))
	copy(cp.Items, job.Items)
	if job.StartedAt != nil {
		t := *job.StartedAt
		cp.StartedAt = &t
	}
	if job.PausedAt != nil {
		t := *job.PausedAt
		cp.PausedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		cp.CompletedAt = &t
	}
	if job.ErrorMessage != nil {
		s := *job.ErrorMessage
		cp.ErrorMessage = &s
	}
	return &cp
}

// IsConflict reports whether the error is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsValidation reports whether the error is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
