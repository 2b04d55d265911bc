package toml

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bnema/possync/internal/domain"
	"github.com/bnema/possync/internal/ports"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	configType      = "toml"
	envPrefix       = "POSSYNC"
	configFileMode  = 0o600
	configDirMode   = 0o700
	configDir       = ".possync"
	configFile      = "config.toml"
	tempFilePattern = ".config-*.toml.tmp"
	socketPath      = "/ws/chat/"
)

type Repository struct {
	path    string
	homeDir string
	mu      *sync.RWMutex
}

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

var _ ports.SettingsRepository = (*Repository)(nil)

// DefaultPath is ~/.possync/config.toml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(homeDir, configDir, configFile), nil
}

// NewRepository opens the settings file at path, or the default location when
// path is empty. The file does not need to exist.
func NewRepository(path string) (*Repository, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	if path == "" {
		path = filepath.Join(homeDir, configDir, configFile)
	}
	path, err = normalizePath(path)
	if err != nil {
		return nil, err
	}

	return &Repository{path: path, homeDir: homeDir, mu: lockForPath(path)}, nil
}

func (r *Repository) Path() string {
	return r.path
}

// Load merges defaults, the config file and POSSYNC_* environment variables
// and validates the result.
func (r *Repository) Load(ctx context.Context) (domain.Settings, error) {
	if err := ctx.Err(); err != nil {
		return domain.Settings{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg := r.newViper()
	cfg.SetEnvPrefix(envPrefix)
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cfg.AutomaticEnv()

	data, err := r.readFile()
	if err != nil {
		return domain.Settings{}, err
	}
	if len(data) > 0 {
		if err := cfg.ReadConfig(bytes.NewReader(data)); err != nil {
			return domain.Settings{}, fmt.Errorf("decode config file: %w", err)
		}
	}

	return decodeSettings(cfg)
}

// Set writes one key to the config file. The file is only replaced when the
// resulting settings validate.
func (r *Repository) Set(ctx context.Context, key string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	parsed, err := parseValue(key, value)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.readFile()
	if err != nil {
		return err
	}

	doc := map[string]any{}
	if len(data) > 0 {
		if err := toml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("decode config file: %w", err)
		}
	}
	if err := setNested(doc, key, parsed); err != nil {
		return err
	}

	candidate := r.newViper()
	if err := candidate.MergeConfigMap(doc); err != nil {
		return fmt.Errorf("merge config: %w", err)
	}
	if _, err := decodeSettings(candidate); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return r.writeFile(doc)
}

func (r *Repository) newViper() *viper.Viper {
	cfg := viper.New()
	cfg.SetConfigType(configType)

	cfg.SetDefault("api.base_url", "http://localhost:8000/api")
	cfg.SetDefault("api.socket_url", "")
	cfg.SetDefault("api.request_timeout", "0s")
	cfg.SetDefault("cache.ttl", "5m")
	cfg.SetDefault("cache.settle_delay", "100ms")
	cfg.SetDefault("channel.max_attempts", 5)
	cfg.SetDefault("channel.base_delay", "1s")
	cfg.SetDefault("channel.max_delay", "30s")
	cfg.SetDefault("session.backend", string(domain.SessionBackendFile))
	cfg.SetDefault("session.dir", filepath.Join(r.homeDir, configDir, "session"))
	cfg.SetDefault("session.redis_addr", "localhost:6379")
	cfg.SetDefault("session.redis_prefix", "possync:")
	cfg.SetDefault("session.check_interval", "1m")
	cfg.SetDefault("session.refresh_skew", "30s")
	cfg.SetDefault("metrics.addr", "")

	return cfg
}

func decodeSettings(cfg *viper.Viper) (domain.Settings, error) {
	settings := domain.Settings{
		API: domain.APISettings{
			BaseURL:        strings.TrimRight(cfg.GetString("api.base_url"), "/"),
			SocketURL:      cfg.GetString("api.socket_url"),
			RequestTimeout: cfg.GetDuration("api.request_timeout"),
		},
		Cache: domain.CacheSettings{
			TTL:         cfg.GetDuration("cache.ttl"),
			SettleDelay: cfg.GetDuration("cache.settle_delay"),
		},
		Channel: domain.ChannelSettings{
			MaxAttempts: cfg.GetInt("channel.max_attempts"),
			BaseDelay:   cfg.GetDuration("channel.base_delay"),
			MaxDelay:    cfg.GetDuration("channel.max_delay"),
		},
		Session: domain.SessionSettings{
			Backend:       domain.SessionBackend(cfg.GetString("session.backend")),
			Dir:           cfg.GetString("session.dir"),
			RedisAddr:     cfg.GetString("session.redis_addr"),
			RedisPrefix:   cfg.GetString("session.redis_prefix"),
			CheckInterval: cfg.GetDuration("session.check_interval"),
			RefreshSkew:   cfg.GetDuration("session.refresh_skew"),
		},
		Metrics: domain.MetricsSettings{
			Addr: cfg.GetString("metrics.addr"),
		},
	}

	if settings.API.SocketURL == "" {
		derived, err := deriveSocketURL(settings.API.BaseURL)
		if err != nil {
			return domain.Settings{}, err
		}
		settings.API.SocketURL = derived
	}

	if err := validate(settings); err != nil {
		return domain.Settings{}, err
	}

	return settings, nil
}

func validate(s domain.Settings) error {
	var errs []error

	base, err := url.Parse(s.API.BaseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url %q must be an http(s) URL with a host", s.API.BaseURL))
	}

	socket, err := url.Parse(s.API.SocketURL)
	if err != nil || (socket.Scheme != "ws" && socket.Scheme != "wss") || socket.Host == "" {
		errs = append(errs, fmt.Errorf("api.socket_url %q must be a ws(s) URL with a host", s.API.SocketURL))
	}

	if s.API.RequestTimeout < 0 {
		errs = append(errs, errors.New("api.request_timeout must not be negative"))
	}

	positive := []struct {
		key   string
		value time.Duration
	}{
		{"cache.ttl", s.Cache.TTL},
		{"cache.settle_delay", s.Cache.SettleDelay},
		{"channel.base_delay", s.Channel.BaseDelay},
		{"channel.max_delay", s.Channel.MaxDelay},
		{"session.check_interval", s.Session.CheckInterval},
		{"session.refresh_skew", s.Session.RefreshSkew},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", p.key))
		}
	}

	if s.Channel.MaxAttempts < 1 {
		errs = append(errs, errors.New("channel.max_attempts must be at least 1"))
	}
	if s.Channel.MaxDelay < s.Channel.BaseDelay {
		errs = append(errs, errors.New("channel.max_delay must not be below channel.base_delay"))
	}

	switch s.Session.Backend {
	case domain.SessionBackendFile, domain.SessionBackendPass, domain.SessionBackendChain, domain.SessionBackendMemory:
	case domain.SessionBackendRedis:
		if s.Session.RedisAddr == "" {
			errs = append(errs, errors.New("session.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("session.backend %q must be one of file, pass, chain, redis, memory", s.Session.Backend))
	}

	return errors.Join(errs...)
}

// deriveSocketURL maps http://host/api to ws://host/ws/chat/.
func deriveSocketURL(baseURL string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("api.base_url %q: %w", baseURL, err)
	}

	derived := url.URL{Host: base.Host, Path: socketPath}
	switch base.Scheme {
	case "https":
		derived.Scheme = "wss"
	default:
		derived.Scheme = "ws"
	}
	return derived.String(), nil
}

func (r *Repository) readFile() ([]byte, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return data, nil
}

func normalizePath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}

	return filepath.Clean(absPath), nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}

func (r *Repository) writeFile(doc map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(r.path), configDirMode); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode config file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(r.path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}

	if err := tempFile.Chmod(configFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp config file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}

	if err := os.Rename(tempName, r.path); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}

	cleanup = false
	return nil
}
