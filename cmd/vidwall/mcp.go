package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/1broseidon/vidwall/internal/logging"
	"github.com/1broseidon/vidwall/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Model Context Protocol integration",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server (stdio transport)",
	Long: `Start the MCP server on stdio. Designed to be invoked by MCP clients.
Tool calls are forwarded to the running daemon over the control socket.

Logs go to stderr so they never mix with the protocol stream.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(_ *cobra.Command, _ []string) error {
		logger, err := logging.New(logging.Options{Level: "warn", Prefix: "mcp", Output: os.Stderr})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return mcp.NewServer(newClient(), logger).Run(ctx)
	},
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
}
