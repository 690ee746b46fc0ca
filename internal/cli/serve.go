// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vitalsync/vitalsync/internal/api"
	"github.com/vitalsync/vitalsync/internal/logging"
	"github.com/vitalsync/vitalsync/internal/supervisor"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync daemon with its HTTP control API",
		Long: `Serve starts the HTTP control API under a supervisor tree and blocks
until SIGINT or SIGTERM. Syncs are started, inspected and controlled via
the API; /metrics exposes Prometheus metrics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()

			server := api.NewServer(app.cfg.Server, app.cfg.Sync, app.controller)

			tree := supervisor.New(logging.NewSlogLogger(), supervisor.TreeConfig{
				ShutdownTimeout: app.cfg.Server.ShutdownTimeout,
			})
			tree.Add(supervisor.Service{Name: "http-server", Run: server.Serve})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logging.Info().Str("listen", app.cfg.Server.Listen).Msg("VitalSync daemon starting")
			err = tree.Serve(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logging.Info().Msg("VitalSync daemon stopped")
			return nil
		},
	}
}
