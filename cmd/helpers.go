// File: cmd/helpers.go
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskbridge/internal/bridge"
	"github.com/xkilldash9x/deskbridge/internal/media"
	"github.com/xkilldash9x/deskbridge/internal/observability"
	"github.com/xkilldash9x/deskbridge/internal/rpc"
)

// buildBridge assembles the worker registry and coordination layer.
// The caller owns the returned registry and must Close it.
func buildBridge(withMedia bool) (*bridge.Bridge, *rpc.Registry, error) {
	logger := observability.GetLogger()
	registry := rpc.NewRegistry(cfg, logger)

	var store *media.Store
	if withMedia {
		var err error
		store, err = media.NewStore(cfg.Media.Dir, logger)
		if err != nil {
			registry.Close()
			return nil, nil, fmt.Errorf("initializing media store: %w", err)
		}
	}

	var b *bridge.Bridge
	var err error
	if store != nil {
		b, err = bridge.NewFromRegistry(cfg, logger, registry, store)
	} else {
		b, err = bridge.NewFromRegistry(cfg, logger, registry, nil)
	}
	if err != nil {
		registry.Close()
		return nil, nil, err
	}
	return b, registry, nil
}

// printJSON writes the value to stdout, indented for human use.
func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		observability.GetLogger().Error("Failed to encode output", zap.Error(err))
		return err
	}
	return nil
}
