package cmd

import (
	"errors"
	"fmt"

	"github.com/bnema/possync/internal/domain"
	"github.com/spf13/cobra"
)

type cli struct {
	opts wireOptions
	app  *app
}

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:           "possync",
		Short:         "POS sync client: session, cached resources and live chat",
		Long:          "possync talks to the POS backend with a self-refreshing session, caches resource reads, applies optimistic updates with rollback and keeps a realtime chat channel alive with bounded reconnects.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[annotationNoWire] == "true" {
				return nil
			}
			c.opts.stderr = cmd.ErrOrStderr()
			wired, err := wireApp(cmd.Context(), c.opts)
			if err != nil {
				return err
			}
			c.app = wired
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.Close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&c.opts.configPath, "config", "", "Config file (default ~/.possync/config.toml, or $POSSYNC_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&c.opts.logLevel, "log-level", "warn", "Log level (debug|info|warn|error)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newLoginCmd(c),
		newLogoutCmd(c),
		newWhoamiCmd(c),
		newSessionCmd(c),
		newConfigCmd(c),
		newFetchCmd(c),
		newProductsCmd(c),
		newSalesCmd(c),
		newOrdersCmd(c),
		newCreditsCmd(c),
		newDepositsCmd(c),
		newSummaryCmd(c),
		newChatCmd(c),
	)

	return rootCmd
}

const annotationNoWire = "possync/no-wire"

// explain turns session failures into an instruction the user can act on.
func explain(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrSessionExpired):
		return fmt.Errorf("%w, run `possync login`", err)
	case errors.Is(err, domain.ErrNoSession):
		return fmt.Errorf("%w, run `possync login` first", err)
	default:
		return err
	}
}
