// File: cmd/serve.go
package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/deskbridge/internal/observability"
	"github.com/xkilldash9x/deskbridge/internal/server"
)

// newServeCmd creates and configures the `serve` command.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the bridge HTTP API with a WebSocket event feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if host, _ := cmd.Flags().GetString("host"); cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if port, _ := cmd.Flags().GetInt("port"); cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			desktop, registry, err := buildBridge(true)
			if err != nil {
				return err
			}
			defer registry.Close()

			logger := observability.GetLogger()
			srv := server.NewServer(cfg, logger, desktop)
			return srv.Start(ctx)
		},
	}

	serveCmd.Flags().String("host", "", "listen address (overrides config)")
	serveCmd.Flags().Int("port", 0, "listen port (overrides config)")
	return serveCmd
}

func init() {
	rootCmd.AddCommand(newServeCmd())
}
