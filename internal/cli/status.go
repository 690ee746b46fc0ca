// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitalsync/vitalsync/internal/models"
)

func newStatusCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "status [sync-id]",
		Short: "Show sync status",
		Long: `Status shows the durable progress record of one sync, or the run
history of a user with --user.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()

			ctx := cmd.Context()
			if len(args) == 1 {
				p, err := app.controller.Progress(ctx, args[0])
				if err != nil {
					return err
				}
				printStatuses([]*models.SyncProgress{p})
				return nil
			}
			if userID == "" {
				return fmt.Errorf("provide a sync id or --user")
			}
			statuses, err := app.store.ListStatuses(ctx, userID)
			if err != nil {
				return err
			}
			printStatuses(statuses)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "List all syncs for a user")
	return cmd
}

func printStatuses(statuses []*models.SyncProgress) {
	if jsonOutput {
		printJSON(statuses)
		return
	}
	if len(statuses) == 0 {
		fmt.Println("No syncs found.")
		return
	}
	for _, p := range statuses {
		fmt.Printf("%s  %-11s  %5.1f%%  units %d/%d (failed %d, skipped %d)  started %s\n",
			p.SyncID, p.Status, p.Percentage(),
			p.CompletedUnits+p.FailedUnits+p.SkippedUnits, p.TotalUnits,
			p.FailedUnits, p.SkippedUnits,
			p.StartedAt.Format(time.RFC3339))
		if p.ErrorMessage != "" {
			fmt.Printf("    error: %s\n", p.ErrorMessage)
		}
	}
}
