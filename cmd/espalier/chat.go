package main

import (
	"context"

	"github.com/aretw0/espalier/internal/cli"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat <workflow>",
	Short: "Run a workflow as an interactive conversation",
	Long: `Starts the workflow in a session and reads answers from Stdin.
If the session already runs a workflow, the conversation resumes where it stopped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		opts := cli.ChatOptions{Workflow: args[0]}
		opts.SessionID, _ = cmd.Flags().GetString("session")
		opts.UserID, _ = cmd.Flags().GetString("user")
		opts.Seed, _ = cmd.Flags().GetString("seed")
		opts.JSON, _ = cmd.Flags().GetBool("json")
		opts.Confirm, _ = cmd.Flags().GetBool("confirm")
		opts.Debug, _ = cmd.Flags().GetBool("debug")
		opts.Fresh, _ = cmd.Flags().GetBool("fresh")
		if opts.Debug && !cmd.Flags().Changed("log-level") {
			cfg.Log.Level = "debug"
		}

		sigCtx := cli.NewSignalContext(context.Background())
		defer sigCtx.Cancel()

		return cli.RunChat(sigCtx, cfg, opts)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringP("session", "s", "", "Session ID (a new one is generated when empty)")
	chatCmd.Flags().StringP("user", "u", "", "User ID attached to the session")
	chatCmd.Flags().String("seed", "", "JSON object of values already known")
	chatCmd.Flags().Bool("json", false, "Run in JSON mode (NDJSON input/output)")
	chatCmd.Flags().Bool("confirm", false, "Ask before running each action")
	chatCmd.Flags().Bool("debug", false, "Log lifecycle events")
	chatCmd.Flags().Bool("fresh", false, "Discard any stored state of the session first")
}
