// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

// Package cli implements the vitalsync command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// Root-level flags shared by all commands.
var (
	configPath string
	logLevel   string
	jsonOutput bool
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vitalsync",
		Short: "Incremental health metrics mirror",
		Long: `VitalSync incrementally mirrors per-day health metrics from a remote
source into a local store. Completed days are checkpointed so interrupted
syncs resume without re-fetching, and days already stored locally are
skipped without touching the remote.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (trace|debug|info|warn|error)")
	root.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	root.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newStatusCmd(),
		newPlanCmd(),
		newUsersCmd(),
		newServeCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(_ *cobra.Command, _ []string) {
			if jsonOutput {
				printJSON(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    buildDate,
				})
				return
			}
			fmt.Printf("vitalsync %s (%s, %s)\n", version, commit, buildDate)
		},
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: encode output: %v\n", err)
	}
}
