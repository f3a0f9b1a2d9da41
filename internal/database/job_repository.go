package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/asinscrape/internal/domain"
	"github.com/jonesrussell/asinscrape/internal/scraper"
)

// JobRepository persists job and item state. It implements the controller's
// Store contract; SaveCheckpoint is an idempotent upsert so the controller
// can retry it on transient failure.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// jobRow mirrors the scrape_jobs table.
type jobRow struct {
	ID                string         `db:"id"`
	Status            string         `db:"status"`
	CreatedAt         sql.NullTime   `db:"created_at"`
	StartedAt         sql.NullTime   `db:"started_at"`
	PausedAt          sql.NullTime   `db:"paused_at"`
	CompletedAt       sql.NullTime   `db:"completed_at"`
	CurrentBatchIndex int            `db:"current_batch_index"`
	ErrorMessage      sql.NullString `db:"error_message"`
}

// SaveCheckpoint writes the full job plus item state in one transaction.
func (r *JobRepository) SaveCheckpoint(ctx context.Context, job *domain.Job) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin checkpoint tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	jobQuery := `
		INSERT INTO scrape_jobs (id, status, created_at, started_at, paused_at,
		                         completed_at, current_batch_index, error_message, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (id) DO UPDATE SET
			status              = EXCLUDED.status,
			started_at          = EXCLUDED.started_at,
			paused_at           = EXCLUDED.paused_at,
			completed_at        = EXCLUDED.completed_at,
			current_batch_index = EXCLUDED.current_batch_index,
			error_message       = EXCLUDED.error_message,
			updated_at          = now()
	`
	if _, err = tx.ExecContext(ctx, jobQuery,
		job.ID,
		string(job.Status),
		job.CreatedAt,
		job.StartedAt,
		job.PausedAt,
		job.CompletedAt,
		job.CurrentBatchIndex,
		job.ErrorMessage,
	); err != nil {
		return fmt.Errorf("failed to upsert job: %w", err)
	}

	itemQuery := `
		INSERT INTO scrape_items (job_id, position, asin, status, attempts, last_error, result_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id, asin) DO UPDATE SET
			position   = EXCLUDED.position,
			status     = EXCLUDED.status,
			attempts   = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			result_ref = EXCLUDED.result_ref
	`
	for i := range job.Items {
		item := &job.Items[i]
		if _, err = tx.ExecContext(ctx, itemQuery,
			job.ID, i, item.ASIN, string(item.Status), item.Attempts, item.LastError, item.ResultRef,
		); err != nil {
			return fmt.Errorf("failed to upsert item %s: %w", item.ASIN, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

// LoadJob retrieves a job and its items by id.
func (r *JobRepository) LoadJob(ctx context.Context, id string) (*domain.Job, error) {
	var row jobRow
	query := `
		SELECT id, status, created_at, started_at, paused_at, completed_at,
		       current_batch_index, error_message
		FROM scrape_jobs
		WHERE id = $1
	`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", scraper.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	job := rowToJob(&row)
	items, err := r.loadItems(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Items = items
	return job, nil
}

// LoadMostRecentPaused returns the most recently interrupted resumable job.
func (r *JobRepository) LoadMostRecentPaused(ctx context.Context) (*domain.Job, error) {
	var row jobRow
	query := `
		SELECT id, status, created_at, started_at, paused_at, completed_at,
		       current_batch_index, error_message
		FROM scrape_jobs
		WHERE status IN ('paused', 'stopped')
		ORDER BY updated_at DESC
		LIMIT 1
	`
	if err := r.db.GetContext(ctx, &row, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no paused job", scraper.ErrJobNotFound)
		}
		return nil, fmt.Errorf("failed to load paused job: %w", err)
	}

	job := rowToJob(&row)
	items, err := r.loadItems(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	job.Items = items
	return job, nil
}

// List retrieves recent jobs without their items, newest first.
func (r *JobRepository) List(ctx context.Context, limit int) ([]*domain.Job, error) {
	var rows []jobRow
	query := `
		SELECT id, status, created_at, started_at, paused_at, completed_at,
		       current_batch_index, error_message
		FROM scrape_jobs
		ORDER BY created_at DESC
		LIMIT $1
	`
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, rowToJob(&rows[i]))
	}
	return jobs, nil
}

// loadItems reads a job's items in insertion order.
func (r *JobRepository) loadItems(ctx context.Context, jobID string) ([]domain.Item, error) {
	type itemRow struct {
		ASIN      string         `db:"asin"`
		Status    string         `db:"status"`
		Attempts  int            `db:"attempts"`
		LastError sql.NullString `db:"last_error"`
		ResultRef sql.NullString `db:"result_ref"`
	}

	var rows []itemRow
	query := `
		SELECT asin, status, attempts, last_error, result_ref
		FROM scrape_items
		WHERE job_id = $1
		ORDER BY position
	`
	if err := r.db.SelectContext(ctx, &rows, query, jobID); err != nil {
		return nil, fmt.Errorf("failed to load items: %w", err)
	}

	items := make([]domain.Item, 0, len(rows))
	for i := range rows {
		item := domain.Item{
			ASIN:     rows[i].ASIN,
			Status:   domain.ItemStatus(rows[i].Status),
			Attempts: rows[i].Attempts,
		}
		if rows[i].LastError.Valid {
			s := rows[i].LastError.String
			item.LastError = &s
		}
		if rows[i].ResultRef.Valid {
			s := rows[i].ResultRef.String
			item.ResultRef = &s
		}
		items = append(items, item)
	}
	return items, nil
}

func rowToJob(row *jobRow) *domain.Job {
	job := &domain.Job{
		ID:                row.ID,
		Status:            domain.JobStatus(row.Status),
		CurrentBatchIndex: row.CurrentBatchIndex,
	}
	if row.CreatedAt.Valid {
		job.CreatedAt = row.CreatedAt.Time
	}
	if row.StartedAt.Valid {
		t := row.StartedAt.Time
		job.StartedAt = &t
	}
	if row.PausedAt.Valid {
		t := row.PausedAt.Time
		job.PausedAt = &t
	}
	if row.CompletedAt.Valid {
		t := row.CompletedAt.Time
		job.CompletedAt = &t
	}
	if row.ErrorMessage.Valid {
		s := row.ErrorMessage.String
		job.ErrorMessage = &s
	}
	return job
}
