// Package cli implements the poco command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "poco",
	Short: "poco: task-settlement ledger node",
	Long: `poco matches signed app, dataset, workerpool, and request orders into
deals, escrows their price, and settles each task by paying every party when
a result is pushed or refunding the requester once the deadline passes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
