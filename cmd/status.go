// File: cmd/status.go
package cmd

import (
	"github.com/spf13/cobra"
)

// newStatusCmd creates the one-shot `status` command.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Queries both automation workers and prints their health",
		RunE: func(cmd *cobra.Command, args []string) error {
			desktop, registry, err := buildBridge(false)
			if err != nil {
				return err
			}
			defer registry.Close()

			report, err := desktop.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}

func init() {
	rootCmd.AddCommand(newStatusCmd())
}
