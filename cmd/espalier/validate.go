package main

import (
	"errors"
	"fmt"

	"github.com/aretw0/espalier/internal/cli"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the workflow definitions for consistency",
	Long: `Loads every workflow definition, checks references between them
(sub-workflows and validators) and reports final actions that have no process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Workflows == "" {
			return errors.New("no workflows configured (set --workflows or workflows in the config file)")
		}
		n, err := cli.Validate(cfg.Workflows, cfg.Actions, cmd.ErrOrStderr())
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d workflows are valid.\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
