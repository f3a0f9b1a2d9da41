// Package scheduler triggers periodic re-scrapes of stale product data.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/asinscrape/internal/domain"
	"github.com/jonesrussell/asinscrape/internal/logger"
	"github.com/jonesrussell/asinscrape/internal/scraper"
)

// StaleLister returns ASINs whose stored product data is older than a cutoff.
type StaleLister interface {
	ListStaleASINs(ctx context.Context, olderThan time.Duration, limit int) ([]string, error)
}

// JobStarter starts a scrape job; satisfied by the controller.
type JobStarter interface {
	Start(asins []string) (*domain.Job, []string, error)
}

// RefreshConfig holds the refresh schedule.
type RefreshConfig struct {
	// Cron is a standard 5-field cron expression.
	Cron string
	// MaxAge is how old a product may be before it is considered stale.
	MaxAge time.Duration
	// Limit caps the number of ASINs per refresh job.
	Limit int
}

// Refresher starts a scrape job on a cron schedule for stale products. A
// refresh that collides with an already-active job is skipped, not queued.
type Refresher struct {
	cfg      RefreshConfig
	products StaleLister
	starter  JobStarter
	cron     *cron.Cron
	logger   logger.Interface
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewRefresher creates a refresh scheduler.
func NewRefresher(cfg RefreshConfig, products StaleLister, starter JobStarter, log logger.Interface) *Refresher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Refresher{
		cfg:      cfg,
		products: products,
		starter:  starter,
		cron:     cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		logger:   log.WithComponent("refresher"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start registers the cron entry and starts the scheduler.
func (r *Refresher) Start() error {
	if _, err := r.cron.AddFunc(r.cfg.Cron, r.runRefresh); err != nil {
		return fmt.Errorf("invalid refresh cron %q: %w", r.cfg.Cron, err)
	}
	r.cron.Start()
	r.logger.Info("refresh scheduler started", "cron", r.cfg.Cron, "max_age", r.cfg.MaxAge)
	return nil
}

// Stop stops the scheduler and waits for a running refresh entry to finish.
func (r *Refresher) Stop() {
	r.cancel()
	<-r.cron.Stop().Done()
	r.logger.Info("refresh scheduler stopped")
}

// runRefresh collects stale ASINs and starts a scrape job for them.
func (r *Refresher) runRefresh() {
	asins, err := r.products.ListStaleASINs(r.ctx, r.cfg.MaxAge, r.cfg.Limit)
	if err != nil {
		r.logger.Error("failed to list stale products", "error", err)
		return
	}
	if len(asins) == 0 {
		r.logger.Debug("no stale products to refresh")
		return
	}

	job, _, err := r.starter.Start(asins)
	if err != nil {
		var conflict *scraper.ConflictError
		if errors.As(err, &conflict) {
			r.logger.Info("refresh skipped, job already active", "active_job_id", conflict.ActiveJobID)
			return
		}
		r.logger.Error("failed to start refresh job", "error", err)
		return
	}
	r.logger.Info("refresh job started", "job_id", job.ID, "items", len(asins))
}
