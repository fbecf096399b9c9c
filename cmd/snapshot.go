// File: cmd/snapshot.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/deskbridge/api/schemas"
)

// newSnapshotCmd creates the one-shot `snapshot` command.
func newSnapshotCmd() *cobra.Command {
	var (
		sessionKey string
		delayMs    int
	)

	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Captures the screen, primes OCR and prints the capture metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			desktop, registry, err := buildBridge(true)
			if err != nil {
				return err
			}
			defer registry.Close()

			result, err := desktop.Snapshot(cmd.Context(), schemas.SnapshotOptions{
				SessionKey: sessionKey,
				DelayMs:    delayMs,
			})
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	snapshotCmd.Flags().StringVar(&sessionKey, "session", "", "session key scoping the vision worker's screenshot cache")
	snapshotCmd.Flags().IntVar(&delayMs, "delay-ms", 0, "delay before capture in milliseconds")
	return snapshotCmd
}

func init() {
	rootCmd.AddCommand(newSnapshotCmd())
}
