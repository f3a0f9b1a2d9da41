// Package config provides configuration management for the scraper service.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/jonesrussell/asinscrape/internal/logger"
)

// Config is the process-wide configuration. It is read-only after Load.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"`
	Refresh  RefreshConfig  `mapstructure:"refresh"`
	Logger   logger.Config  `mapstructure:"logger"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig holds Redis settings for the product snapshot cache.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ScraperConfig holds the job controller's pacing and retry settings.
type ScraperConfig struct {
	// BatchSize is the number of items claimed per batch.
	BatchSize int `mapstructure:"batch_size"`
	// Concurrency is the worker pool size per batch; capped at BatchSize.
	Concurrency int `mapstructure:"concurrency"`
	// MaxAttempts bounds fetch attempts per item.
	MaxAttempts int `mapstructure:"max_attempts"`
	// BatchPause is the base delay between batches.
	BatchPause time.Duration `mapstructure:"batch_pause"`
	// ItemDelay is the base delay before each worker's fetch.
	ItemDelay time.Duration `mapstructure:"item_delay"`
	// JitterFraction widens each delay by a random factor in [0, JitterFraction].
	JitterFraction float64 `mapstructure:"jitter_fraction"`
	// DegradedBackoff multiplies the batch pause when health is degraded.
	DegradedBackoff float64 `mapstructure:"degraded_backoff"`
	// UnhealthyBackoff multiplies the batch pause when health is unhealthy.
	UnhealthyBackoff float64 `mapstructure:"unhealthy_backoff"`
	// HealthWindow is the rolling outcome window capacity.
	HealthWindow int `mapstructure:"health_window"`
	// DegradedThreshold is the windowed failure rate at which health degrades.
	DegradedThreshold float64 `mapstructure:"degraded_threshold"`
	// UnhealthyThreshold is the windowed failure rate at which health is unhealthy.
	UnhealthyThreshold float64 `mapstructure:"unhealthy_threshold"`
	// MaxConsecutiveFailures short-circuits health to unhealthy.
	MaxConsecutiveFailures int `mapstructure:"max_consecutive_failures"`
	// CheckpointRetries bounds SaveCheckpoint retries before the job fails.
	CheckpointRetries int `mapstructure:"checkpoint_retries"`
	// CheckpointRetryDelay is the base delay between checkpoint retries.
	CheckpointRetryDelay time.Duration `mapstructure:"checkpoint_retry_delay"`
}

// FetcherConfig holds upstream fetch settings.
type FetcherConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// RefreshConfig holds the stale-product refresh schedule.
type RefreshConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Cron is a standard 5-field cron expression.
	Cron string `mapstructure:"cron"`
	// MaxAge is how old a product may be before it is considered stale.
	MaxAge time.Duration `mapstructure:"max_age"`
	// Limit caps the number of ASINs per refresh job.
	Limit int `mapstructure:"limit"`
}

// Load reads configuration from viper into a validated Config.
// SetDefaults must have been applied to the viper instance beforehand
// (the cmd package does this during initialization).
func Load() (*Config, error) {
	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := viper.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for values the controller cannot run with.
func (c *Config) Validate() error {
	if c.Scraper.BatchSize <= 0 {
		return errors.New("scraper.batch_size must be positive")
	}
	if c.Scraper.Concurrency <= 0 {
		return errors.New("scraper.concurrency must be positive")
	}
	if c.Scraper.Concurrency > c.Scraper.BatchSize {
		return fmt.Errorf("scraper.concurrency (%d) must not exceed scraper.batch_size (%d)",
			c.Scraper.Concurrency, c.Scraper.BatchSize)
	}
	if c.Scraper.MaxAttempts <= 0 {
		return errors.New("scraper.max_attempts must be positive")
	}
	if c.Scraper.HealthWindow <= 0 {
		return errors.New("scraper.health_window must be positive")
	}
	if c.Scraper.DegradedThreshold < 0 || c.Scraper.DegradedThreshold > 1 {
		return errors.New("scraper.degraded_threshold must be within [0, 1]")
	}
	if c.Scraper.UnhealthyThreshold < c.Scraper.DegradedThreshold || c.Scraper.UnhealthyThreshold > 1 {
		return errors.New("scraper.unhealthy_threshold must be within [degraded_threshold, 1]")
	}
	if c.Refresh.Enabled && c.Refresh.Cron == "" {
		return errors.New("refresh.cron must be set when refresh is enabled")
	}
	return nil
}

// SetDefaults registers production-safe defaults on the global viper instance.
func SetDefaults() {
	viper.SetDefault("app", map[string]any{
		"name":        "asinscrape",
		"environment": "production",
		"debug":       false,
	})

	viper.SetDefault("logger", map[string]any{
		"level":       "info",
		"development": false,
		"encoding":    "json",
	})

	viper.SetDefault("server", map[string]any{
		"address":       ":8070",
		"read_timeout":  "15s",
		"write_timeout": "15s",
		"idle_timeout":  "60s",
	})

	viper.SetDefault("database", map[string]any{
		"host":     "localhost",
		"port":     5432,
		"user":     "postgres",
		"password": "",
		"database": "asinscrape",
		"sslmode":  "disable",
	})

	viper.SetDefault("redis", map[string]any{
		"enabled":  false,
		"address":  "localhost:6379",
		"password": "",
		"db":       0,
		"ttl":      "24h",
	})

	viper.SetDefault("scraper", map[string]any{
		"batch_size":               10,
		"concurrency":              5,
		"max_attempts":             3,
		"batch_pause":              "30s",
		"item_delay":               "2s",
		"jitter_fraction":          0.5,
		"degraded_backoff":         3.0,
		"unhealthy_backoff":        6.0,
		"health_window":            20,
		"degraded_threshold":       0.25,
		"unhealthy_threshold":      0.5,
		"max_consecutive_failures": 5,
		"checkpoint_retries":       3,
		"checkpoint_retry_delay":   "2s",
	})

	viper.SetDefault("fetcher", map[string]any{
		"base_url":   "https://www.amazon.com",
		"user_agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
		"timeout":    "30s",
	})

	viper.SetDefault("refresh", map[string]any{
		"enabled": false,
		"cron":    "0 3 * * *",
		"max_age": "168h",
		"limit":   200,
	})
}
