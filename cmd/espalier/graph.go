package main

import (
	"github.com/aretw0/espalier/internal/cli"
	"github.com/spf13/cobra"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the workflow graph visualization",
	Long:  `Outputs a Mermaid diagram (graph TD) of the workflows, their fields, sub-workflows and final actions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStack(cmd, func(stack *cli.Stack) error {
			return cli.PrintGraph(stack, cmd.OutOrStdout())
		})
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
