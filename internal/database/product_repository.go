package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/asinscrape/internal/domain"
)

// ProductRepository persists scraped product data.
type ProductRepository struct {
	db *sqlx.DB
}

// NewProductRepository creates a new product repository.
func NewProductRepository(db *sqlx.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// SaveProduct upserts product data by ASIN and returns the result reference
// used by job items.
func (r *ProductRepository) SaveProduct(ctx context.Context, product *domain.Product) (string, error) {
	bullets, err := json.Marshal(product.Bullets)
	if err != nil {
		return "", fmt.Errorf("failed to encode bullets: %w", err)
	}

	query := `
		INSERT INTO products (asin, title, brand, description, bullets, price_cents,
		                      currency, image_url, category, rating, review_count, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (asin) DO UPDATE SET
			title        = EXCLUDED.title,
			brand        = EXCLUDED.brand,
			description  = EXCLUDED.description,
			bullets      = EXCLUDED.bullets,
			price_cents  = EXCLUDED.price_cents,
			currency     = EXCLUDED.currency,
			image_url    = EXCLUDED.image_url,
			category     = EXCLUDED.category,
			rating       = EXCLUDED.rating,
			review_count = EXCLUDED.review_count,
			scraped_at   = EXCLUDED.scraped_at
	`
	if _, err = r.db.ExecContext(ctx, query,
		product.ASIN,
		product.Title,
		product.Brand,
		product.Description,
		bullets,
		product.PriceCents,
		product.Currency,
		product.ImageURL,
		product.Category,
		product.Rating,
		product.ReviewCount,
		product.ScrapedAt,
	); err != nil {
		return "", fmt.Errorf("failed to upsert product: %w", err)
	}

	return "product:" + product.ASIN, nil
}

// GetProduct retrieves stored product data by ASIN.
func (r *ProductRepository) GetProduct(ctx context.Context, asin string) (*domain.Product, error) {
	type productRow struct {
		ASIN        string    `db:"asin"`
		Title       string    `db:"title"`
		Brand       string    `db:"brand"`
		Description string    `db:"description"`
		Bullets     []byte    `db:"bullets"`
		PriceCents  int64     `db:"price_cents"`
		Currency    string    `db:"currency"`
		ImageURL    string    `db:"image_url"`
		Category    string    `db:"category"`
		Rating      float64   `db:"rating"`
		ReviewCount int       `db:"review_count"`
		ScrapedAt   time.Time `db:"scraped_at"`
	}

	var row productRow
	query := `
		SELECT asin, title, COALESCE(brand, '') AS brand, COALESCE(description, '') AS description,
		       bullets, price_cents, COALESCE(currency, '') AS currency,
		       COALESCE(image_url, '') AS image_url, COALESCE(category, '') AS category,
		       rating, review_count, scraped_at
		FROM products
		WHERE asin = $1
	`
	if err := r.db.GetContext(ctx, &row, query, asin); err != nil {
		return nil, fmt.Errorf("failed to get product %s: %w", asin, err)
	}

	product := &domain.Product{
		ASIN:        row.ASIN,
		Title:       row.Title,
		Brand:       row.Brand,
		Description: row.Description,
		PriceCents:  row.PriceCents,
		Currency:    row.Currency,
		ImageURL:    row.ImageURL,
		Category:    row.Category,
		Rating:      row.Rating,
		ReviewCount: row.ReviewCount,
		ScrapedAt:   row.ScrapedAt,
	}
	if len(row.Bullets) > 0 {
		if err := json.Unmarshal(row.Bullets, &product.Bullets); err != nil {
			return nil, fmt.Errorf("failed to decode bullets: %w", err)
		}
	}
	return product, nil
}

// ListStaleASINs returns ASINs whose stored data is older than the cutoff,
// oldest first, for the refresh scheduler.
func (r *ProductRepository) ListStaleASINs(ctx context.Context, olderThan time.Duration, limit int) ([]string, error) {
	var asins []string
	query := `
		SELECT asin
		FROM products
		WHERE scraped_at < $1
		ORDER BY scraped_at ASC
		LIMIT $2
	`
	cutoff := time.Now().UTC().Add(-olderThan)
	if err := r.db.SelectContext(ctx, &asins, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to list stale products: %w", err)
	}
	return asins, nil
}
