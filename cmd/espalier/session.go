package main

import (
	"github.com/aretw0/espalier/internal/cli"
	"github.com/aretw0/espalier/internal/logging"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage persistent sessions",
	Long:  `List, inspect, and remove sessions held by the configured store.`,
}

// withStack runs fn against an engine built from the command's config.
func withStack(cmd *cobra.Command, fn func(stack *cli.Stack) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	stack, err := cli.NewStack(cfg, logging.NewNop())
	if err != nil {
		return err
	}
	defer stack.Close()
	return fn(stack)
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all active sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStack(cmd, func(stack *cli.Stack) error {
			return cli.ListSessions(cmd.Context(), stack, cmd.OutOrStdout())
		})
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Inspect the workflow stack of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asGraph, _ := cmd.Flags().GetBool("graph")
		return withStack(cmd, func(stack *cli.Stack) error {
			return cli.InspectSession(cmd.Context(), stack, args[0], asGraph, cmd.OutOrStdout())
		})
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove one or more sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStack(cmd, func(stack *cli.Stack) error {
			return cli.RemoveSessions(cmd.Context(), stack, args, cmd.OutOrStdout())
		})
	},
}

var sessionTrailCmd = &cobra.Command{
	Use:   "trail <session-id>",
	Short: "Print the audit trail of a session (requires audit.enabled)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStack(cmd, func(stack *cli.Stack) error {
			return cli.PrintTrail(cmd.Context(), stack, args[0], cmd.OutOrStdout())
		})
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionInspectCmd)
	sessionCmd.AddCommand(sessionRmCmd)
	sessionCmd.AddCommand(sessionTrailCmd)

	sessionInspectCmd.Flags().Bool("graph", false, "Print a Mermaid graph with the stack highlighted")
}
