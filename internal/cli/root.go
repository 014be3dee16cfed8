// Package cli implements the Cobra-based command line for wassel: `plugin
// build/serve` and `stack build/serve` (spec.md §6's "CLI surface").
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "wassel",
	Short: "wassel — routes HTTP requests to sandboxed WebAssembly plugins",
	Long: `wassel is an HTTP front-end that routes incoming requests to
sandboxed WebAssembly-component plugins. It builds plugin directories into
a deployable layout and serves them behind a single HTTP listener.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(pluginCmd)
	rootCmd.AddCommand(stackCmd)
}
