// Command reconciler runs the billing reconciliation engine: the webhook and
// operator API, the periodic jobs, and one-shot maintenance commands.
//
// @title                      Billing Reconciler API
// @version                    1.0
// @description                Gateway webhook ingestion, conflict resolution and operational alerts.
// @license.name               MIT
// @BasePath                   /api/v1
// @securityDefinitions.apikey OperatorID
// @in                         header
// @name                       X-Operator-ID
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFiles []string

	root := &cobra.Command{
		Use:           "reconciler",
		Short:         "Reconcile payment gateway events with local billing records",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnv(envFiles)
		},
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")

	root.AddCommand(
		serveCmd(),
		sweepCmd(),
		probeCmd(),
		checkCmd(),
		migrateCmd(),
	)
	return root
}
