// File: internal/mcpserver/server.go
package mcpserver

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskbridge/api/schemas"
)

const serverName = "deskbridge"

// NewServer builds the MCP server with the desktop tool set attached.
func NewServer(version string, logger *zap.Logger, desktop schemas.Desktop) *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: version,
		},
		&mcp.ServerOptions{
			HasTools: true,
			Instructions: `Desktop automation bridge. Drives mouse and keyboard through an input
worker and resolves on-screen targets through an OCR/vision worker.

Available tools:
- desktop_status: check both workers are alive
- desktop_snapshot: capture the screen and prime OCR
- desktop_act: perform an input action (click/type/scroll/...), optionally
  targeting on-screen text or a visual description instead of raw coordinates

Every action returns a fresh capture, so chain desktop_act calls directly;
a separate snapshot between actions is only needed for pure observation.`,
		},
	)

	NewDesktopTools(logger, desktop).Register(server)
	return server
}

// Run serves MCP over stdio until the context is cancelled. Logging
// must already be routed to stderr; stdout belongs to the protocol.
func Run(ctx context.Context, version string, logger *zap.Logger, desktop schemas.Desktop) error {
	server := NewServer(version, logger, desktop)
	logger.Info("MCP server starting on stdio", zap.String("version", version))
	return server.Run(ctx, &mcp.StdioTransport{})
}
