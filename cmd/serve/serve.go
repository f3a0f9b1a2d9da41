// Package serve implements the HTTP server command for the scraper service.
package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/asinscrape/internal/api"
	"github.com/jonesrussell/asinscrape/internal/cache"
	"github.com/jonesrussell/asinscrape/internal/config"
	"github.com/jonesrussell/asinscrape/internal/database"
	"github.com/jonesrussell/asinscrape/internal/fetcher"
	"github.com/jonesrussell/asinscrape/internal/logger"
	"github.com/jonesrussell/asinscrape/internal/metrics"
	"github.com/jonesrussell/asinscrape/internal/scheduler"
	"github.com/jonesrussell/asinscrape/internal/scraper"
)

const (
	errorChannelBufferSize = 1
	defaultShutdownTimeout = 30 * time.Second
	schemaTimeout          = 10 * time.Second
)

// Command returns the serve command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scraper HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(&cfg.Logger)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	schemaCtx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	defer cancel()
	if err = database.EnsureSchema(schemaCtx, db); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	jobRepo := database.NewJobRepository(db)
	productRepo := database.NewProductRepository(db)

	var productCache scraper.ProductCache
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		pc := cache.New(client, cfg.Redis.TTL)
		if pingErr := pc.Ping(schemaCtx); pingErr != nil {
			return fmt.Errorf("connect redis: %w", pingErr)
		}
		productCache = pc
		log.Info("product cache enabled", "address", cfg.Redis.Address, "ttl", cfg.Redis.TTL)
	}

	amazonFetcher := fetcher.NewAmazon(fetcher.AmazonConfig{
		BaseURL:   cfg.Fetcher.BaseURL,
		UserAgent: cfg.Fetcher.UserAgent,
		Timeout:   cfg.Fetcher.Timeout,
	}, log.WithComponent("fetcher"))

	m := metrics.New()
	controller := scraper.NewController(
		controllerConfig(&cfg.Scraper),
		jobRepo,
		amazonFetcher,
		productRepo,
		productCache,
		m,
		log,
	)

	var refresher *scheduler.Refresher
	if cfg.Refresh.Enabled {
		refresher = scheduler.NewRefresher(scheduler.RefreshConfig{
			Cron:   cfg.Refresh.Cron,
			MaxAge: cfg.Refresh.MaxAge,
			Limit:  cfg.Refresh.Limit,
		}, productRepo, controller, log)
		if err = refresher.Start(); err != nil {
			return fmt.Errorf("start refresher: %w", err)
		}
	}

	handler := api.NewScrapeHandler(controller, m, log.WithComponent("api"))
	router := api.NewRouter(handler, cfg.App.Debug)
	server := api.NewServer(cfg.Server, router)

	errChan := make(chan error, errorChannelBufferSize)
	go func() {
		log.Info("HTTP server listening", "address", cfg.Server.Address)
		if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("shutdown signal received", "signal", sig.String())
	case serveErr := <-errChan:
		log.Error("HTTP server error", "error", serveErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer shutdownCancel()

	if refresher != nil {
		refresher.Stop()
	}
	if err = controller.Shutdown(shutdownCtx); err != nil {
		log.Warn("controller shutdown incomplete", "error", err)
	}
	if err = server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	log.Info("shutdown complete")
	return nil
}

// controllerConfig maps the flat scraper config onto the controller's
// component configs.
func controllerConfig(cfg *config.ScraperConfig) scraper.ControllerConfig {
	return scraper.ControllerConfig{
		Batch: scraper.BatchConfig{
			BatchSize:   cfg.BatchSize,
			Concurrency: cfg.Concurrency,
			MaxAttempts: cfg.MaxAttempts,
		},
		Gate: scraper.RateGateConfig{
			ItemDelay:        cfg.ItemDelay,
			BatchPause:       cfg.BatchPause,
			JitterFraction:   cfg.JitterFraction,
			DegradedBackoff:  cfg.DegradedBackoff,
			UnhealthyBackoff: cfg.UnhealthyBackoff,
		},
		Health: scraper.HealthConfig{
			WindowSize:             cfg.HealthWindow,
			DegradedThreshold:      cfg.DegradedThreshold,
			UnhealthyThreshold:     cfg.UnhealthyThreshold,
			MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		},
		CheckpointRetries:    cfg.CheckpointRetries,
		CheckpointRetryDelay: cfg.CheckpointRetryDelay,
	}
}
