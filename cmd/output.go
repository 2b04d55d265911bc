package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	statusadapter "github.com/bnema/possync/internal/adapters/render/status"
	"github.com/spf13/cobra"
)

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeRendered(cmd *cobra.Command, rendered string, err error) error {
	if err != nil {
		return fmt.Errorf("render output: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return err
}

// withSpinner runs fn behind a spinner when stderr is a terminal and plainly
// otherwise.
func withSpinner(cmd *cobra.Command, label string, fn func(context.Context) error) error {
	if !isTerminal(cmd.ErrOrStderr()) {
		return fn(cmd.Context())
	}
	return statusadapter.Spin(cmd.Context(), cmd.ErrOrStderr(), label, fn)
}

func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
