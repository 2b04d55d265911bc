package cmd

import (
	"errors"
	"fmt"
	"os"

	statusadapter "github.com/bnema/possync/internal/adapters/render/status"
	"github.com/bnema/possync/internal/domain"
	"github.com/spf13/cobra"
)

const envPassword = "POSSYNC_PASSWORD"

func newLoginCmd(c *cli) *cobra.Command {
	var username string
	var password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv(envPassword)
			}
			if password == "" {
				return fmt.Errorf("password is required (--password or $%s)", envPassword)
			}

			profile, err := c.app.auth.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", profile.Label())
			return err
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Username")
	cmd.Flags().StringVar(&password, "password", "", "Password (or $"+envPassword+")")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}

func newLogoutCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.app.auth.Logout(cmd.Context()); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return err
		},
	}
}

func newWhoamiCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the logged in user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			profile, err := c.app.auth.CurrentUser(cmd.Context())
			if err != nil {
				return explain(err)
			}

			line := profile.Label()
			if profile.Role != "" {
				line = fmt.Sprintf("%s (%s)", line, profile.Role)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), line)
			return err
		},
	}
}

func newSessionCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect the stored session",
	}

	cmd.AddCommand(newSessionCheckCmd(c))

	return cmd
}

func newSessionCheckCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Refresh the access token when it is close to expiry and report the session state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			status := statusadapter.SessionStatus{Backend: c.app.settings.Session.Backend}

			result, err := c.app.monitor.Check(ctx)
			switch {
			case errors.Is(err, domain.ErrNoSession):
				status.Anonymous = true
			case err != nil:
				return explain(err)
			default:
				status.ExpiresAt = result.ExpiresAt
				status.ExpiryKnown = result.Known
				status.Refreshed = result.Refreshed
				status.User, status.HasUser, err = c.app.session.User(ctx)
				if err != nil {
					return err
				}
			}

			rendered, err := statusadapter.Session(status, statusadapter.RenderOptions{Now: c.app.now()})
			if err != nil {
				return fmt.Errorf("render session: %w", err)
			}
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), rendered); err != nil {
				return err
			}
			if status.Anonymous {
				return explain(domain.ErrNoSession)
			}
			return nil
		},
	}
}
