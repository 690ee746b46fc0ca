// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitalsync/vitalsync/internal/models"
)

func newPlanCmd() *cobra.Command {
	var (
		userID    string
		startDate string
		endDate   string
		metrics   []string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Dry-run a sync and report skip efficiency",
		Long: `Plan inspects the local store for a range without touching the remote
and reports how many units a sync would actually fetch.`,
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

			report, err := app.controller.EfficiencyStats(cmd.Context(), userID, metrics, start, end)
			if err != nil {
				return err
			}

			if jsonOutput {
				printJSON(report)
				return nil
			}
			fmt.Printf("Range %s..%s, %d metrics\n", startDate, endDate, len(metrics))
			fmt.Printf("  total units:    %d\n", report.TotalUnits)
			fmt.Printf("  already stored: %d\n", report.ExistingUnits)
			fmt.Printf("  to fetch:       %d\n", report.MissingUnits)
			fmt.Printf("  skip rate:      %.1f%%\n", report.SkipPercentage)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User identifier")
	cmd.Flags().StringVar(&startDate, "start", "", "Range start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end", "", "Range end (YYYY-MM-DD)")
	cmd.Flags().StringSliceVarP(&metrics, "metrics", "m", nil, "Metrics to plan (default: configured list)")

	for _, f := range []string{"user", "start", "end"} {
		if err := cmd.MarkFlagRequired(f); err != nil {
			panic(err)
		}
	}
	return cmd
}
