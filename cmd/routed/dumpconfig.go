package main

import (
	"github.com/spf13/cobra"

	"github.com/routed-project/routed/internal/config"
)

var dumpConfigCmd = &cobra.Command{
	Use:   "dump-config",
	Short: "Load the configuration and print it back as resolved YAML",
	Long: `dump-config loads the file named by --config, applies defaults
and validates it, then prints the fully resolved configuration back out
as YAML. Useful for confirming what the router will actually run with
once environment and default overrides are taken into account.`,
	RunE: runDumpConfig,
}

func init() {
	rootCmd.AddCommand(dumpConfigCmd)
}

func runDumpConfig(cmd *cobra.Command, args []string) error {
	if err := requireConfigFile(); err != nil {
		return err
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	out, err := config.Dump(cfg)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
