package main

import (
	"fmt"
	"os"

	"github.com/aretw0/espalier/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "espalier",
	Short: "Espalier is a guided workflow engine for conversational data collection",
	Long: `Espalier runs declarative workflows that collect fields over many turns,
resolve related records (creating them through nested sub-workflows when missing)
and run a final action once everything is known.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "Path to the espalier YAML config file")
	flags.StringP("workflows", "w", "", "Workflow file or directory (overrides config)")
	flags.String("actions", "", "Process actions file (overrides config)")
	flags.String("store", "", "Session store: memory, file or redis (overrides config)")
	flags.String("store-path", "", "Directory of the file store (overrides config)")
	flags.String("redis-addr", "", "Redis address (overrides config)")
	flags.String("log-level", "", "Log level: debug, info, warn or error (overrides config)")
	flags.String("log-format", "", "Log format: text or json (overrides config)")
}

// loadConfig reads the config file and environment, then applies the
// persistent flags the user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	overrides := map[string]*string{
		"workflows":  &cfg.Workflows,
		"actions":    &cfg.Actions,
		"store":      &cfg.Store.Driver,
		"store-path": &cfg.Store.Path,
		"redis-addr": &cfg.Redis.Addr,
		"log-level":  &cfg.Log.Level,
		"log-format": &cfg.Log.Format,
	}
	for name, target := range overrides {
		if cmd.Flags().Changed(name) {
			*target, _ = cmd.Flags().GetString(name)
		}
	}

	if err := cfg.Normalize(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
