// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitalsync/vitalsync/internal/logging"
	"github.com/vitalsync/vitalsync/internal/models"
	"github.com/vitalsync/vitalsync/internal/storage"
	enginesync "github.com/vitalsync/vitalsync/internal/sync"
)

func newRunCmd() *cobra.Command {
	var (
		userID        string
		startDate     string
		endDate       string
		metrics       []string
		resume        bool
		oldestFirst   bool
		batchSize     int
		retryAttempts int
		retryDelay    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a sync to completion",
		Long: `Run mirrors the requested date range for one user and blocks until
the sync finishes. Interrupting with Ctrl-C stops the sync cleanly; the
checkpoint is kept so a later run with --resume picks up where it left off.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()

			start, err := models.ParseDate(startDate)
			if err != nil {
				return err
			}
			end, err := models.ParseDate(endDate)
			if err != nil {
				return err
			}
			if len(metrics) == 0 {
				metrics = app.cfg.Sync.Metrics
			}
			if batchSize == 0 {
				batchSize = app.cfg.Sync.BatchSize
			}
			if retryAttempts == 0 {
				retryAttempts = app.cfg.Sync.RetryAttempts
			}
			if retryDelay == 0 {
				retryDelay = app.cfg.Sync.RetryDelay
			}

			cfg := models.SyncConfig{
				UserID:        userID,
				StartDate:     start,
				EndDate:       end,
				Metrics:       metrics,
				BatchSize:     batchSize,
				RetryAttempts: retryAttempts,
				RetryDelay:    retryDelay,
				Backoff:       models.BackoffMode(app.cfg.Sync.Backoff),
				OldestFirst:   oldestFirst || app.cfg.Sync.OldestFirst,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Metric rows reference the users table; fail early with a
			// useful message instead of mid-sync on the first write.
			if _, err := app.store.GetUser(ctx, userID); err != nil {
				if errors.Is(err, storage.ErrUserNotFound) {
					return fmt.Errorf("unknown user %q: register it first with 'vitalsync users add'", userID)
				}
				return err
			}

			stats := enginesync.NewStatsReporter()
			app.reporter.Add(stats)

			syncID, err := app.controller.Start(ctx, cfg, resume)
			if err != nil {
				return err
			}
			logging.Info().Str("sync_id", syncID).Msg("Sync launched")

			if done, ok := app.controller.Wait(syncID); ok {
				select {
				case <-done:
				case <-ctx.Done():
					logging.Info().Msg("Interrupt received, stopping sync")
					if err := app.controller.Stop(syncID); err != nil {
						logging.Warn().Err(err).Msg("Stop failed")
					}
					<-done
				}
			}

			progress, err := app.controller.Progress(context.Background(), syncID)
			if err != nil {
				return err
			}
			printRunSummary(progress, stats.Snapshot())

			if progress.Status == models.StatusFailed {
				return fmt.Errorf("sync failed: %s", progress.ErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User identifier")
	cmd.Flags().StringVar(&startDate, "start", "", "Range start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end", "", "Range end (YYYY-MM-DD)")
	cmd.Flags().StringSliceVarP(&metrics, "metrics", "m", nil, "Metrics to sync (default: configured list)")
	cmd.Flags().BoolVar(&resume, "resume", true, "Resume a prior interrupted sync if one exists")
	cmd.Flags().BoolVar(&oldestFirst, "oldest-first", false, "Process days chronologically instead of newest first")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Completed days between checkpoint flushes")
	cmd.Flags().IntVar(&retryAttempts, "retry-attempts", 0, "Fetch attempts per unit")
	cmd.Flags().DurationVar(&retryDelay, "retry-delay", 0, "Delay between fetch attempts")

	for _, f := range []string{"user", "start", "end"} {
		if err := cmd.MarkFlagRequired(f); err != nil {
			panic(err)
		}
	}
	return cmd
}

func printRunSummary(p *models.SyncProgress, stats enginesync.Stats) {
	if jsonOutput {
		printJSON(map[string]any{
			"sync_id":  p.SyncID,
			"status":   p.Status,
			"progress": p,
			"stats":    stats,
		})
		return
	}
	fmt.Printf("Sync %s: %s\n", p.SyncID, p.Status)
	fmt.Printf("  units:   %d total, %d completed, %d failed, %d skipped\n",
		p.TotalUnits, p.CompletedUnits, p.FailedUnits, p.SkippedUnits)
	fmt.Printf("  days:    %d of %d\n", p.CompletedDays, p.TotalDays)
	fmt.Printf("  elapsed: %s\n", p.Elapsed(time.Now().UTC()).Round(time.Millisecond))
	if p.ErrorMessage != "" {
		fmt.Fprintf(os.Stderr, "  error:   %s\n", p.ErrorMessage)
	}
}
