// File: cmd/mcp.go
package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/deskbridge/internal/mcpserver"
	"github.com/xkilldash9x/deskbridge/internal/observability"
)

// newMCPCmd creates the `mcp` command, serving the bridge tools over
// stdio. Stdout belongs to the protocol; the logger writes to stderr.
func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serves the desktop tools over the Model Context Protocol on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			desktop, registry, err := buildBridge(true)
			if err != nil {
				return err
			}
			defer registry.Close()

			logger := observability.GetLogger()
			if err := mcpserver.Run(ctx, Version, logger, desktop); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info("MCP server stopped.")
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(newMCPCmd())
}
