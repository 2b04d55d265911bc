package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	authadapter "github.com/bnema/possync/internal/adapters/auth"
	"github.com/bnema/possync/internal/adapters/realtime/gorilla"
	tomlrepo "github.com/bnema/possync/internal/adapters/repo/toml"
	chainstore "github.com/bnema/possync/internal/adapters/secrets/chain"
	filestore "github.com/bnema/possync/internal/adapters/secrets/file"
	memorystore "github.com/bnema/possync/internal/adapters/secrets/memory"
	passstore "github.com/bnema/possync/internal/adapters/secrets/pass"
	redisstore "github.com/bnema/possync/internal/adapters/secrets/redis"
	"github.com/bnema/possync/internal/application"
	"github.com/bnema/possync/internal/domain"
	"github.com/bnema/possync/internal/metrics"
	"github.com/bnema/possync/internal/ports"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	passNamespace = "possync"
	envConfigPath = "POSSYNC_CONFIG"
	dotEnvFile    = ".env"
)

type app struct {
	settings     domain.Settings
	settingsRepo *tomlrepo.Repository
	logger       *slog.Logger
	registry     *prometheus.Registry
	session      *application.Session
	monitor      *application.SessionMonitor
	orchestrator *application.Orchestrator
	channel      *application.ChannelManager
	auth         *application.AuthService
	retail       *application.RetailService
	chat         *application.ChatService
	now          func() time.Time
	closers      []func() error
}

type wireOptions struct {
	configPath string
	logLevel   string
	stderr     io.Writer
}

func wireApp(ctx context.Context, opts wireOptions) (*app, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	logger, err := newLogger(opts.stderr, opts.logLevel)
	if err != nil {
		return nil, err
	}

	configPath := opts.configPath
	if configPath == "" {
		configPath = os.Getenv(envConfigPath)
	}
	repo, err := tomlrepo.NewRepository(configPath)
	if err != nil {
		return nil, fmt.Errorf("wire settings repository: %w", err)
	}
	settings, err := repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings from %s: %w", repo.Path(), err)
	}

	a := &app{
		settings:     settings,
		settingsRepo: repo,
		logger:       logger,
		registry:     prometheus.NewRegistry(),
		now:          time.Now,
	}

	store, err := a.wireSessionStore(ctx)
	if err != nil {
		return nil, err
	}

	collector := metrics.New(a.registry)
	common := []application.Option{
		application.WithLogger(logger),
		application.WithMetrics(collector),
		application.WithClock(ports.SystemClock{}),
	}

	httpClient := &http.Client{Timeout: settings.API.RequestTimeout}
	exchanger := authadapter.TokenClient{
		API:            authadapter.DefaultAPI(settings.API.BaseURL),
		HTTPClient:     httpClient,
		RequestTimeout: settings.API.RequestTimeout,
	}

	a.session = application.NewSession(store)
	refresher := application.NewRefresher(a.session, exchanger, common...)
	gateway, err := application.NewGateway(settings.API.BaseURL, httpClient, a.session, refresher, common...)
	if err != nil {
		return nil, fmt.Errorf("wire gateway: %w", err)
	}

	a.monitor = application.NewSessionMonitor(a.session, refresher, authadapter.AccessTokenExpiry, settings.Session.RefreshSkew, common...)
	a.orchestrator = application.NewOrchestrator(gateway, application.NewResponseCache(settings.Cache.TTL, ports.SystemClock{}), settings.Cache.SettleDelay, common...)

	messages := application.NewMessageStore()
	a.channel = application.NewChannelManager(a.session, gorilla.Dialer{}, messages, application.ChannelConfig{
		URL:         settings.API.SocketURL,
		MaxAttempts: settings.Channel.MaxAttempts,
		BaseDelay:   settings.Channel.BaseDelay,
		MaxDelay:    settings.Channel.MaxDelay,
	}, common...)
	a.closers = append(a.closers, func() error { a.channel.Close(); return nil })
	a.closers = append(a.closers, a.bindChannelToSession())

	a.auth = application.NewAuthService(a.session, exchanger, gateway)
	a.retail = application.NewRetailService(a.orchestrator, common...)
	a.chat = application.NewChatService(a.orchestrator, messages, a.channel, a.session, common...)

	return a, nil
}

// bindChannelToSession closes the channel when the session goes away and
// revives a FAILED channel once fresh tokens arrive.
func (a *app) bindChannelToSession() func() error {
	unsubscribe := a.session.OnChange(func(event domain.SessionEvent) {
		switch event.Kind {
		case domain.SessionCleared, domain.SessionExpired:
			a.channel.Stop()
		case domain.SessionTokensUpdated:
			if a.channel.State() == domain.StateFailed {
				if err := a.channel.Reset(context.Background()); err != nil {
					a.logger.Warn("channel reset after token update failed", "error", err)
				}
			}
		}
	})
	return func() error {
		unsubscribe()
		return nil
	}
}

func (a *app) wireSessionStore(ctx context.Context) (ports.SecretStore, error) {
	cfg := a.settings.Session
	switch cfg.Backend {
	case domain.SessionBackendFile:
		return filestore.NewStore(cfg.Dir), nil
	case domain.SessionBackendPass:
		return passstore.NewStore(passNamespace), nil
	case domain.SessionBackendChain:
		store, err := chainstore.NewPassFirstWithFileFallback(passNamespace, cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("wire session store chain: %w", err)
		}
		return store, nil
	case domain.SessionBackendRedis:
		store, err := redisstore.Dial(ctx, cfg.RedisAddr, strings.TrimSuffix(cfg.RedisPrefix, ":"))
		if err != nil {
			return nil, fmt.Errorf("wire redis session store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case domain.SessionBackendMemory:
		return memorystore.NewStore(), nil
	default:
		return nil, fmt.Errorf("unsupported session backend %q", cfg.Backend)
	}
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func loadDotEnv() error {
	if _, err := os.Stat(dotEnvFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", dotEnvFile, err)
	}
	if err := godotenv.Load(dotEnvFile); err != nil {
		return fmt.Errorf("load %s: %w", dotEnvFile, err)
	}
	return nil
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "", "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unsupported log level %q (debug|info|warn|error)", level)
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
