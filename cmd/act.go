// File: cmd/act.go
package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/deskbridge/api/schemas"
)

// newActCmd creates the one-shot `act` command. The action is given as
// a single JSON argument so the full request shape stays available
// without a flag per field.
func newActCmd() *cobra.Command {
	var sessionKey string

	actCmd := &cobra.Command{
		Use:   "act <request-json>",
		Short: "Performs one desktop input action and prints the outcome",
		Long: `Performs one desktop input action and prints the outcome, including the
post-action screen capture metadata.

The request is a single JSON object:

  deskbridge act '{"kind":"click","x":100,"y":200}'
  deskbridge act '{"kind":"click","find_coordinates_by":"ocr","ocr_text":"Save"}'
  deskbridge act '{"kind":"type","text":"hello world"}'
  deskbridge act '{"kind":"hotkey","keys":["ctrl","s"]}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req schemas.ActRequest
			if err := json.Unmarshal([]byte(args[0]), &req); err != nil {
				return fmt.Errorf("invalid action request: %w", err)
			}

			desktop, registry, err := buildBridge(true)
			if err != nil {
				return err
			}
			defer registry.Close()

			outcome, err := desktop.Act(cmd.Context(), req, schemas.ActOptions{SessionKey: sessionKey})
			if err != nil {
				return err
			}
			return printJSON(outcome)
		},
	}

	actCmd.Flags().StringVar(&sessionKey, "session", "", "session key scoping the vision worker's screenshot cache")
	return actCmd
}

func init() {
	rootCmd.AddCommand(newActCmd())
}
