// Package scrape implements the one-shot CLI scrape command.
package scrape

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/asinscrape/internal/config"
	"github.com/jonesrussell/asinscrape/internal/database"
	"github.com/jonesrussell/asinscrape/internal/domain"
	"github.com/jonesrussell/asinscrape/internal/fetcher"
	"github.com/jonesrussell/asinscrape/internal/logger"
	"github.com/jonesrussell/asinscrape/internal/metrics"
	"github.com/jonesrussell/asinscrape/internal/scraper"
)

const (
	pollInterval    = 2 * time.Second
	schemaTimeout   = 10 * time.Second
	shutdownTimeout = 30 * time.Second
)

// Command returns the scrape command.
func Command() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "scrape [ASIN...]",
		Short: "Run a scrape job to completion",
		Long: `Run a scrape job for the given ASINs and wait for it to finish.
ASINs are taken from arguments, or one per line from --file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			asins, err := collectASINs(args, file)
			if err != nil {
				return err
			}
			return run(cmd.Context(), asins)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "file with one ASIN per line")
	return cmd
}

// collectASINs merges positional arguments with the optional input file.
func collectASINs(args []string, file string) ([]string, error) {
	asins := make([]string, 0, len(args))
	asins = append(asins, args...)

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read ASIN file: %w", err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			asins = append(asins, line)
		}
	}

	if len(asins) == 0 {
		return nil, fmt.Errorf("no ASINs given: pass them as arguments or via --file")
	}
	return asins, nil
}

func run(parent context.Context, asins []string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	schemaCtx, cancel := context.WithTimeout(ctx, schemaTimeout)
	defer cancel()
	if err = database.EnsureSchema(schemaCtx, db); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	amazonFetcher := fetcher.NewAmazon(fetcher.AmazonConfig{
		BaseURL:   cfg.Fetcher.BaseURL,
		UserAgent: cfg.Fetcher.UserAgent,
		Timeout:   cfg.Fetcher.Timeout,
	}, log.WithComponent("fetcher"))

	controller := scraper.NewController(
		controllerConfig(&cfg.Scraper),
		database.NewJobRepository(db),
		amazonFetcher,
		database.NewProductRepository(db),
		nil,
		metrics.New(),
		log,
	)

	job, rejected, err := controller.Start(asins)
	if err != nil {
		return fmt.Errorf("start job: %w", err)
	}
	if len(rejected) > 0 {
		fmt.Fprintf(os.Stderr, "Rejected %d invalid ASINs: %s\n", len(rejected), strings.Join(rejected, ", "))
	}
	fmt.Printf("Job %s started with %d items\n", job.ID, len(job.Items))

	final, err := waitForJob(ctx, controller)
	if err != nil {
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err = controller.Shutdown(shutdownCtx); err != nil {
		log.Warn("controller shutdown incomplete", "error", err)
	}

	printSummary(final)
	if final.Status == domain.JobStatusFailed {
		return fmt.Errorf("job %s failed", final.ID)
	}
	return nil
}

// waitForJob polls the controller until the job settles. An interrupt pauses
// the job through controller shutdown rather than abandoning it mid-batch.
func waitForJob(ctx context.Context, controller *scraper.Controller) (*domain.Job, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "Interrupted, checkpointing job...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := controller.Shutdown(shutdownCtx); err != nil {
				return nil, fmt.Errorf("shutdown after interrupt: %w", err)
			}
			job := controller.GetCurrentJob()
			if job == nil {
				return nil, fmt.Errorf("job state lost after interrupt")
			}
			return job, nil
		case <-ticker.C:
			job := controller.GetCurrentJob()
			if job == nil {
				return nil, fmt.Errorf("no current job")
			}
			if job.Status.IsTerminal() || job.Status == domain.JobStatusPaused {
				return job, nil
			}
			counts := job.Counts()
			fmt.Printf("batch %d: %d pending, %d succeeded, %d failed, %d skipped\n",
				job.CurrentBatchIndex, counts.Pending, counts.Succeeded, counts.Failed, counts.Skipped)
		}
	}
}

func printSummary(job *domain.Job) {
	counts := job.Counts()
	fmt.Printf("\nJob %s: %s\n", job.ID, job.Status)
	fmt.Printf("  succeeded: %d\n", counts.Succeeded)
	fmt.Printf("  failed:    %d\n", counts.Failed)
	fmt.Printf("  skipped:   %d\n", counts.Skipped)
	fmt.Printf("  pending:   %d\n", counts.Pending)
	if job.ErrorMessage != nil {
		fmt.Printf("  error:     %s\n", *job.ErrorMessage)
	}
}

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
