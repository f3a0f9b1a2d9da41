package domain

import (
	"time"
)

// Product represents product data scraped for one ASIN.
type Product struct {
	ASIN        string   `db:"asin"        json:"asin"`
	Title       string   `db:"title"       json:"title"`
	Brand       string   `db:"brand"       json:"brand,omitempty"`
	Description string   `db:"description" json:"description,omitempty"`
	Bullets     []string `json:"bullets,omitempty"`

	// PriceCents is the listed price in minor units; 0 means unavailable.
	PriceCents int64  `db:"price_cents" json:"price_cents"`
	Currency   string `db:"currency"    json:"currency,omitempty"`

	ImageURL    string   `db:"image_url" json:"image_url,omitempty"`
	Category    string   `db:"category"  json:"category,omitempty"`
	Rating      float64  `db:"rating"    json:"rating,omitempty"`
	ReviewCount int      `db:"review_count" json:"review_count,omitempty"`

	ScrapedAt time.Time `db:"scraped_at" json:"scraped_at"`
}
