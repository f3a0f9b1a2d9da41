// Package cache provides a Redis-backed product snapshot cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/asinscrape/internal/domain"
)

// keyPrefix namespaces cache entries.
const keyPrefix = "asinscrape:product:"

// ProductCache stores recently scraped products in Redis with a TTL. A fresh
// entry lets the batch runner skip a fetch entirely.
type ProductCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a product cache.
func New(client *redis.Client, ttl time.Duration) *ProductCache {
	return &ProductCache{client: client, ttl: ttl}
}

// Get returns the cached product for an ASIN, or (nil, nil) on a miss.
func (c *ProductCache) Get(ctx context.Context, asin string) (*domain.Product, error) {
	data, err := c.client.Get(ctx, keyPrefix+asin).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache for %s: %w", asin, err)
	}

	var product domain.Product
	if err := json.Unmarshal(data, &product); err != nil {
		return nil, fmt.Errorf("failed to decode cached product %s: %w", asin, err)
	}
	return &product, nil
}

// Set stores a product snapshot with the configured TTL.
func (c *ProductCache) Set(ctx context.Context, product *domain.Product) error {
	data, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("failed to encode product %s: %w", product.ASIN, err)
	}
	if err := c.client.Set(ctx, keyPrefix+product.ASIN, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache for %s: %w", product.ASIN, err)
	}
	return nil
}

// Ping verifies the Redis connection.
func (c *ProductCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
