package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newFetchCmd(c *cli) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "fetch <endpoint>",
		Short: "GET an endpoint through the cache and print the body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint := args[0]

			var payload []byte
			err := withSpinner(cmd, "Fetching "+endpoint+"...", func(ctx context.Context) error {
				var err error
				payload, err = c.app.orchestrator.Fetch(ctx, "", endpoint)
				return err
			})
			if err != nil {
				return explain(err)
			}

			if !asJSON {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(payload))
				return err
			}

			var decoded any
			if err := json.Unmarshal(payload, &decoded); err != nil {
				return fmt.Errorf("response is not JSON: %w", err)
			}
			return writeJSON(cmd, decoded)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Pretty-print the body as JSON")

	return cmd
}
