package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/routed-project/routed/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configuration without starting the router",
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
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
	fmt.Fprintf(cmd.OutOrStdout(), "configuration valid: router-id %s\n", cfg.RouterID)
	return nil
}
