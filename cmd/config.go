package cmd

import (
	"fmt"
	"os"
	"strings"

	tomlrepo "github.com/bnema/possync/internal/adapters/repo/toml"
	"github.com/bnema/possync/internal/domain"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

type settingsView struct {
	Config  string         `toml:"config_file"`
	API     apiView        `toml:"api"`
	Cache   cacheView      `toml:"cache"`
	Channel channelView    `toml:"channel"`
	Session sessionView    `toml:"session"`
	Metrics metricsSection `toml:"metrics"`
}

type apiView struct {
	BaseURL        string `toml:"base_url"`
	SocketURL      string `toml:"socket_url"`
	RequestTimeout string `toml:"request_timeout"`
}

type cacheView struct {
	TTL         string `toml:"ttl"`
	SettleDelay string `toml:"settle_delay"`
}

type channelView struct {
	MaxAttempts int    `toml:"max_attempts"`
	BaseDelay   string `toml:"base_delay"`
	MaxDelay    string `toml:"max_delay"`
}

type sessionView struct {
	Backend       string `toml:"backend"`
	Dir           string `toml:"dir"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPrefix   string `toml:"redis_prefix"`
	CheckInterval string `toml:"check_interval"`
	RefreshSkew   string `toml:"refresh_skew"`
}

type metricsSection struct {
	Addr string `toml:"addr"`
}

func newSettingsView(path string, s domain.Settings) settingsView {
	return settingsView{
		Config: path,
		API: apiView{
			BaseURL:        s.API.BaseURL,
			SocketURL:      s.API.SocketURL,
			RequestTimeout: s.API.RequestTimeout.String(),
		},
		Cache: cacheView{
			TTL:         s.Cache.TTL.String(),
			SettleDelay: s.Cache.SettleDelay.String(),
		},
		Channel: channelView{
			MaxAttempts: s.Channel.MaxAttempts,
			BaseDelay:   s.Channel.BaseDelay.String(),
			MaxDelay:    s.Channel.MaxDelay.String(),
		},
		Session: sessionView{
			Backend:       string(s.Session.Backend),
			Dir:           s.Session.Dir,
			RedisAddr:     s.Session.RedisAddr,
			RedisPrefix:   s.Session.RedisPrefix,
			CheckInterval: s.Session.CheckInterval.String(),
			RefreshSkew:   s.Session.RefreshSkew.String(),
		},
		Metrics: metricsSection{Addr: s.Metrics.Addr},
	}
}

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change settings",
	}

	cmd.AddCommand(newConfigSetCmd(c), newConfigShowCmd(c))

	return cmd
}

// settingsRepository opens the config file without wiring the rest of the
// app, so a broken file can still be repaired.
func (c *cli) settingsRepository() (*tomlrepo.Repository, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	path := c.opts.configPath
	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	return tomlrepo.NewRepository(path)
}

func newConfigSetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:         "set <key> <value>",
		Short:       "Write one setting to the config file",
		Long:        "Write one setting to the config file. Known keys: " + strings.Join(tomlrepo.Keys(), ", "),
		Args:        cobra.ExactArgs(2),
		Annotations: map[string]string{annotationNoWire: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := c.settingsRepository()
			if err != nil {
				return err
			}
			if err := repo.Set(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
			return err
		},
	}
}

func newConfigShowCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:         "show",
		Short:       "Print the effective settings",
		Annotations: map[string]string{annotationNoWire: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := c.settingsRepository()
			if err != nil {
				return err
			}
			settings, err := repo.Load(cmd.Context())
			if err != nil {
				return err
			}

			out, err := toml.Marshal(newSettingsView(repo.Path(), settings))
			if err != nil {
				return fmt.Errorf("encode settings: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
