package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is overridden at link time
var Version = "0.1.0"

const appName = "assistant-server"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assistant",
		Short: "Session orchestrator for an interactive coding agent",
		Long: `Runs one agent session per working directory and arbitrates access to it
between attached clients, the auto-fix loop and the background agent loop.

Available subcommands:
  serve       Start the websocket, MCP, health and metrics endpoints
  version     Print the version

Examples:
  assistant serve --workdir ./project
  assistant serve --config assistant.yaml --policy preemptive`,
		SilenceUsage: true,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s v%s\n", appName, Version)
		},
	}
}
