package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema is applied idempotently on startup.
const schema = `
CREATE TABLE IF NOT EXISTS scrape_jobs (
	id                  TEXT PRIMARY KEY,
	status              TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL,
	started_at          TIMESTAMPTZ,
	paused_at           TIMESTAMPTZ,
	completed_at        TIMESTAMPTZ,
	current_batch_index INTEGER NOT NULL DEFAULT 0,
	error_message       TEXT,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_scrape_jobs_status ON scrape_jobs (status);

CREATE TABLE IF NOT EXISTS scrape_items (
	job_id     TEXT NOT NULL REFERENCES scrape_jobs (id) ON DELETE CASCADE,
	position   INTEGER NOT NULL,
	asin       TEXT NOT NULL,
	status     TEXT NOT NULL,
	attempts   INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	result_ref TEXT,
	PRIMARY KEY (job_id, asin)
);

CREATE INDEX IF NOT EXISTS idx_scrape_items_job_position ON scrape_items (job_id, position);

CREATE TABLE IF NOT EXISTS products (
	asin         TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	brand        TEXT,
	description  TEXT,
	bullets      JSONB,
	price_cents  BIGINT NOT NULL DEFAULT 0,
	currency     TEXT,
	image_url    TEXT,
	category     TEXT,
	rating       DOUBLE PRECISION NOT NULL DEFAULT 0,
	review_count INTEGER NOT NULL DEFAULT 0,
	scraped_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_products_scraped_at ON products (scraped_at);
`

// EnsureSchema creates the tables this service needs if they do not exist.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
