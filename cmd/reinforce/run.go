package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/altaterra-ai/answer-engine/internal/reinforce"
	"github.com/altaterra-ai/answer-engine/internal/storage"
)

// newRunCmd creates the run subcommand.
func newRunCmd() *cobra.Command {
	var (
		window   time.Duration
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fold recent feedback into learned responses",
		Long: `Run reads unprocessed feedback from the trailing window, maps each
rating onto a quality score, and upserts the learned response for that
query. Pass --interval to keep running on a schedule until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, repos, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			jobCfg := reinforce.Config{
				Window:         cfg.Reinforce.Window,
				MaxConcurrency: cfg.Reinforce.MaxConcurrency,
			}
			if window > 0 {
				jobCfg.Window = window
			}
			job := reinforce.NewJob(repos.Feedback, repos.LearnedResponses, logger, jobCfg)

			if interval <= 0 {
				return runOnce(cmd.Context(), job)
			}

			// Loop mode: run immediately, then on every tick
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := runOnce(ctx, job); err != nil {
				return err
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					fmt.Println()
					color.New(color.FgYellow).Println("⚠ Interrupted, stopping")
					return nil
				case <-ticker.C:
					if err := runOnce(ctx, job); err != nil {
						color.New(color.FgRed).Printf("✗ %v\n", err)
					}
				}
			}
		},
	}

	cmd.Flags().DurationVar(&window, "window", 0, "feedback window to process (default: config value)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "re-run on this interval until interrupted")

	return cmd
}

func runOnce(ctx context.Context, job *reinforce.Job) error {
	var spin *spinner.Spinner
	if !outputJSON {
		spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		spin.Suffix = " Processing feedback..."
		spin.Writer = os.Stderr
		spin.Start()
	}

	report, err := job.Run(ctx)

	if spin != nil {
		spin.Stop()
	}
	if err != nil {
		return fmt.Errorf("reinforcement run: %w", err)
	}

	printReport(report)
	return nil
}

func printReport(report *reinforce.Report) {
	if outputJSON {
		json.NewEncoder(os.Stdout).Encode(report)
		return
	}

	elapsed := report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond)
	color.New(color.FgGreen).Printf("✓ Processed %d feedback items in %s\n", report.Processed, elapsed)
	fmt.Printf("  created: %d  updated: %d\n", report.Created, report.Updated)

	if len(report.Errors) > 0 {
		color.New(color.FgYellow).Printf("⚠ %d items failed:\n", len(report.Errors))
		for _, itemErr := range report.Errors {
			fmt.Printf("  %s: %s\n", itemErr.FeedbackID, itemErr.Err)
		}
	}
}

// openStore connects to the configured database and builds repositories.
func openStore(ctx context.Context) (*sql.DB, *storage.Repositories, error) {
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := storage.Open(openCtx, storage.OpenOptions{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.DatabaseDSN(),
		MaxOpenConns:    cfg.Database.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Database.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	if err := storage.EnsureSchema(openCtx, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}

	return db, storage.NewRepositories(db), nil
}
