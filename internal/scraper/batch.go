package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonesrussell/asinscrape/internal/domain"
	"github.com/jonesrussell/asinscrape/internal/fetcher"
	"github.com/jonesrussell/asinscrape/internal/logger"
	"github.com/jonesrussell/asinscrape/internal/metrics"
)

// ProductStore persists scraped product data and returns an opaque reference
// to the stored result.
type ProductStore interface {
	SaveProduct(ctx context.Context, product *domain.Product) (string, error)
}

// ProductCache is an optional read-through cache of product snapshots.
// Get returns (nil, nil) on a miss.
type ProductCache interface {
	Get(ctx context.Context, asin string) (*domain.Product, error)
	Set(ctx context.Context, product *domain.Product) error
}

// BatchConfig holds the per-batch processing settings.
type BatchConfig struct {
	// BatchSize is the number of items claimed per batch.
	BatchSize int
	// Concurrency is the worker pool size; capped at BatchSize, reduced to 1
	// by the rate gate while the upstream is unhealthy.
	Concurrency int
	// MaxAttempts bounds fetch attempts per item.
	MaxAttempts int
}

// BatchSummary describes the outcome of one batch.
type BatchSummary struct {
	Claimed   int
	Succeeded int
	Failed    int
	Retried   int
	Skipped   int
	Released  int
	Health    domain.HealthStatus
}

// BatchRunner orchestrates one batch: it claims pending items, runs a bounded
// pool of fetch workers, and funnels every result through a single
// aggregation loop that updates the queue, health monitor, and metrics.
type BatchRunner struct {
	cfg      BatchConfig
	fetcher  fetcher.Fetcher
	products ProductStore
	cache    ProductCache
	gate     *RateGate
	health   *HealthMonitor
	metrics  *metrics.Metrics
	logger   logger.Interface
}

// NewBatchRunner creates a batch runner. cache may be nil to disable the
// cache-hit short circuit.
func NewBatchRunner(
	cfg BatchConfig,
	f fetcher.Fetcher,
	products ProductStore,
	cache ProductCache,
	gate *RateGate,
	health *HealthMonitor,
	m *metrics.Metrics,
	log logger.Interface,
) *BatchRunner {
	return &BatchRunner{
		cfg:      cfg,
		fetcher:  f,
		products: products,
		cache:    cache,
		gate:     gate,
		health:   health,
		metrics:  m,
		logger:   log,
	}
}

// fetchOutcome is one worker's report to the aggregation loop.
type fetchOutcome struct {
	asin    string
	product *domain.Product
	skipped bool
	err     error
}

// RunBatch claims up to BatchSize pending items and processes them with
// bounded concurrency. runCtx bounds the whole run (in-flight fetches are
// cancelled only when it ends); stopCtx is cancelled on Stop and is observed
// before each worker's fetch so no new fetch starts after a stop, while
// fetches already in flight drain cleanly.
//
// A systemic fetch failure (auth/config) is returned as an error so the
// controller can fail the job; per-item failures are contained in the
// summary.
func (r *BatchRunner) RunBatch(runCtx, stopCtx context.Context, queue *ItemQueue) (BatchSummary, error) {
	summary := BatchSummary{}

	claimed := queue.ClaimBatch(r.cfg.BatchSize)
	summary.Claimed = len(claimed)
	if len(claimed) == 0 {
		summary.Health = r.health.Status()
		return summary, nil
	}

	concurrency := r.gate.Concurrency(r.cfg.Concurrency, r.health.Status())
	if concurrency > len(claimed) {
		concurrency = len(claimed)
	}

	sem := make(chan struct{}, concurrency)
	results := make(chan fetchOutcome, len(claimed))
	var wg sync.WaitGroup

	for i := range claimed {
		item := claimed[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runWorker(runCtx, stopCtx, sem, results, queue, item.ASIN)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	// Single aggregation point: queue write-back and health recording are
	// serialized here so workers never mutate the health window concurrently.
	var systemicErr error
	for out := range results {
		r.aggregate(runCtx, queue, out, &summary, &systemicErr)
	}

	summary.Released = summary.Claimed - summary.Succeeded - summary.Failed - summary.Retried - summary.Skipped
	summary.Health = r.health.Status()
	return summary, systemicErr
}

// runWorker processes one claimed item. A worker that never starts its fetch
// (stop observed, or pacing interrupted) releases the claim back to pending
// without consuming an attempt.
func (r *BatchRunner) runWorker(
	runCtx, stopCtx context.Context,
	sem chan struct{},
	results chan<- fetchOutcome,
	queue *ItemQueue,
	asin string,
) {
	select {
	case sem <- struct{}{}:
	case <-stopCtx.Done():
		queue.Release(asin)
		return
	}
	defer func() { <-sem }()

	if r.cache != nil {
		if product, err := r.cache.Get(runCtx, asin); err == nil && product != nil {
			results <- fetchOutcome{asin: asin, product: product, skipped: true}
			return
		}
	}

	if err := r.gate.WaitBetweenItems(stopCtx); err != nil {
		queue.Release(asin)
		return
	}

	if stopCtx.Err() != nil {
		queue.Release(asin)
		return
	}

	product, err := r.fetcher.Fetch(runCtx, asin)
	results <- fetchOutcome{asin: asin, product: product, err: err}
}

// aggregate applies one worker outcome to the queue, health window, and
// metrics.
func (r *BatchRunner) aggregate(
	runCtx context.Context,
	queue *ItemQueue,
	out fetchOutcome,
	summary *BatchSummary,
	systemicErr *error,
) {
	if out.skipped {
		queue.MarkSkipped(out.asin, productRef(out.asin))
		r.metrics.RecordSkip()
		summary.Skipped++
		r.logger.Debug("item served from cache", "asin", out.asin)
		return
	}

	if out.err == nil {
		ref, saveErr := r.products.SaveProduct(runCtx, out.product)
		if saveErr != nil {
			// Treat a result-store failure like a retryable item failure so
			// the fetch is not lost permanently.
			r.recordFailure(queue, summary, out.asin, fmt.Sprintf("failed to store product: %v", saveErr), false)
			return
		}
		if r.cache != nil {
			if cacheErr := r.cache.Set(runCtx, out.product); cacheErr != nil {
				r.logger.Warn("failed to cache product", "asin", out.asin, "error", cacheErr)
			}
		}
		queue.MarkSuccess(out.asin, ref)
		r.health.Record(true)
		r.metrics.RecordFetch(true, false)
		summary.Succeeded++
		return
	}

	fe, typed := fetcher.AsError(out.err)
	if !typed && (errors.Is(out.err, context.Canceled) || errors.Is(out.err, context.DeadlineExceeded)) {
		// The run itself was cancelled mid-fetch; the upstream never answered,
		// so the claim goes back without an attempt or a health mark.
		queue.Release(out.asin)
		r.logger.Debug("in-flight fetch cancelled, item released", "asin", out.asin)
		return
	}

	rateLimited := typed && fe.Kind == fetcher.KindRateLimited
	r.health.Record(false)
	r.metrics.RecordFetch(false, rateLimited)

	if typed && fe.IsSystemic() {
		queue.MarkFailure(out.asin, out.err.Error(), 1)
		summary.Failed++
		if *systemicErr == nil {
			*systemicErr = fmt.Errorf("systemic fetch failure: %w", out.err)
		}
		return
	}

	retryable := !typed || fe.Retryable
	r.recordFailure(queue, summary, out.asin, out.err.Error(), !retryable)
}

// recordFailure applies retry accounting for one failed attempt. permanent
// failures (non-retryable kinds) do not return to pending.
func (r *BatchRunner) recordFailure(queue *ItemQueue, summary *BatchSummary, asin, reason string, permanent bool) {
	maxAttempts := r.cfg.MaxAttempts
	if permanent {
		maxAttempts = 1
	}
	if queue.MarkFailure(asin, reason, maxAttempts) {
		summary.Retried++
		r.logger.Debug("item requeued for retry", "asin", asin, "reason", reason)
		return
	}
	summary.Failed++
	r.logger.Warn("item failed", "asin", asin, "reason", reason)
}

// productRef is the opaque reference convention for stored products.
func productRef(asin string) string {
	return "product:" + asin
}
