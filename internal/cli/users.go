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

func newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage registered users",
	}
	cmd.AddCommand(newUsersAddCmd(), newUsersListCmd(), newUsersRemoveCmd())
	return cmd
}

func newUsersAddCmd() *cobra.Command {
	var (
		userID      string
		email       string
		displayName string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()

			u := &models.User{
				UserID:      userID,
				Email:       email,
				DisplayName: displayName,
				CreatedAt:   time.Now().UTC(),
			}
			if err := app.store.AddUser(cmd.Context(), u); err != nil {
				return err
			}
			if jsonOutput {
				printJSON(u)
				return nil
			}
			fmt.Printf("Added user %s\n", userID)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "id", "", "User identifier")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&displayName, "name", "", "Display name")
	for _, f := range []string{"id", "email"} {
		if err := cmd.MarkFlagRequired(f); err != nil {
			panic(err)
		}
	}
	return cmd
}

func newUsersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered users",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()

			users, err := app.store.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(users)
				return nil
			}
			if len(users) == 0 {
				fmt.Println("No users registered.")
				return nil
			}
			for _, u := range users {
				last := "never"
				if u.LastSync != nil {
					last = u.LastSync.Format(time.RFC3339)
				}
				fmt.Printf("%s  %s  last sync: %s\n", u.UserID, u.Email, last)
			}
			return nil
		},
	}
}

func newUsersRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <user-id>",
		Short: "Remove a user and their mirrored data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()

			if err := app.store.RemoveUser(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed user %s\n", args[0])
			return nil
		},
	}
}
