package main

import (
	"context"

	"github.com/aretw0/espalier/internal/cli"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  `Serves sessions over a JSON HTTP API with SSE updates and Prometheus metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") {
			cfg.Server.Addr, _ = cmd.Flags().GetString("addr")
		}
		if cmd.Flags().Changed("metrics-addr") {
			cfg.Server.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
		}

		logger, err := cli.NewLogger(cfg.Log)
		if err != nil {
			return err
		}
		stack, err := cli.NewStack(cfg, logger)
		if err != nil {
			return err
		}
		defer stack.Close()

		sigCtx := cli.NewSignalContext(context.Background())
		defer sigCtx.Cancel()

		return cli.RunServe(sigCtx, stack, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "Address to listen on (overrides config)")
	serveCmd.Flags().String("metrics-addr", "", "Separate address for /metrics (overrides config)")
}
