// Package cmd wires subcaptiond's cobra command tree: serve (API +
// scheduler), worker (scheduler only), and clean (one-shot TTL sweep).
package cmd

import (
	"github.com/spf13/cobra"

	"frameworks/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:     "subcaptiond",
	Short:   "Subtitle job pipeline: ingress API, scheduler worker pool, and TTL cleaner",
	Version: version.GetInfo().Version,
}

func init() {
	rootCmd.AddCommand(serveCmd, workerCmd, cleanCmd)
}

// Execute runs the root command, returning the first error any
// subcommand produces.
func Execute() error {
	return rootCmd.Execute()
}
