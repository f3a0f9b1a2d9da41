// Package jobs implements the command-line interface for inspecting scrape
// jobs. The list command displays recent jobs in a formatted table.
package jobs

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/asinscrape/internal/config"
	"github.com/jonesrussell/asinscrape/internal/database"
	"github.com/jonesrussell/asinscrape/internal/domain"
)

const defaultListLimit = 20

// Command returns the jobs command group.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect scrape jobs",
	}
	cmd.AddCommand(newListCommand())
	return cmd
}

// newListCommand creates the jobs list command.
func newListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent scrape jobs",
		Long:  `List recent scrape jobs, newest first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", defaultListLimit, "maximum jobs to show")
	return cmd
}

func runList(ctx context.Context, limit int) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	jobs, err := database.NewJobRepository(db).List(ctx, limit)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	renderTable(jobs)
	return nil
}

// renderTable formats and displays the jobs in a table format.
func renderTable(jobs []*domain.Job) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"ID", "Status", "Batch", "Created", "Completed", "Error"})

	for _, job := range jobs {
		t.AppendRow(table.Row{
			job.ID,
			job.Status,
			job.CurrentBatchIndex,
			job.CreatedAt.Format(time.RFC3339),
			formatTime(job.CompletedAt),
			formatError(job.ErrorMessage),
		})
	}

	t.Render()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func formatError(msg *string) string {
	if msg == nil {
		return ""
	}
	return *msg
}
