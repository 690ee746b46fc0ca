// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

// Command vitalsync mirrors per-day health metrics from a remote source
// into a local SQLite store. See `vitalsync --help` for the command set.
package main

import (
	"os"

	"github.com/vitalsync/vitalsync/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
