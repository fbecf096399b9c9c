// File: internal/rpc/resolver.go
package rpc

import (
	"os"
	"slices"
	"strings"

	"github.com/xkilldash9x/deskbridge/internal/config"
)

// Conventional interpreter names tried when no explicit path is
// configured, in priority order.
const (
	primaryInterpreter   = "python3"
	secondaryInterpreter = "python"
)

// Command is one launch candidate for a worker process.
type Command struct {
	Path string
	Args []string
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Path
	}
	return c.Path + " " + strings.Join(c.Args, " ")
}

// ResolveCommands produces the ordered launch candidates for a worker.
// An environment override wins over the configured interpreter path;
// either makes that interpreter the only candidate. Otherwise the two
// conventional interpreter names are tried in order. Each candidate is
// `{interpreter, extraArgs..., entrypoint}`.
func ResolveCommands(cfg config.WorkerConfig) []Command {
	args := append(slices.Clone(cfg.ExtraArgs), cfg.Entrypoint)

	if cfg.PythonEnvVar != "" {
		if path := os.Getenv(cfg.PythonEnvVar); path != "" {
			return []Command{{Path: path, Args: args}}
		}
	}
	if cfg.PythonPath != "" {
		return []Command{{Path: cfg.PythonPath, Args: args}}
	}
	return []Command{
		{Path: primaryInterpreter, Args: args},
		{Path: secondaryInterpreter, Args: args},
	}
}
