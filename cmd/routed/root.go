// Package main is the routed CLI entry point: a Cobra tree over
// internal/manager's lifecycle, following the shape of the pack's own
// cmd/<name>/commands layout (global --config flag, one subcommand per
// file).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/routed-project/routed/internal/errs"
)

var errMissingConfigFlag = errs.New(errs.Config, "cli", "--config is required")

var (
	version = "dev"
	commit  = "none"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "routed",
	Short: "routed - a multi-protocol routing speaker",
	Long: `routed runs OSPFv2, IS-IS and BGP-4 speakers, redistributes
routes between them, and installs the winning routes into the kernel
routing table.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (required for run/validate)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

// requireConfigFile is checked by run/validate before touching viper,
// so a missing --config fails fast with a clear message rather than
// viper's "unsupported config type" error for an empty path.
func requireConfigFile() error {
	if cfgFile == "" {
		return errMissingConfigFlag
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCodeFor(err))
	}
}
