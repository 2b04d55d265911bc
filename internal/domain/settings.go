package domain

import "time"

type SessionBackend string

const (
	SessionBackendFile   SessionBackend = "file"
	SessionBackendPass   SessionBackend = "pass"
	SessionBackendChain  SessionBackend = "chain"
	SessionBackendRedis  SessionBackend = "redis"
	SessionBackendMemory SessionBackend = "memory"
)

type Settings struct {
	API     APISettings
	Cache   CacheSettings
	Channel ChannelSettings
	Session SessionSettings
	Metrics MetricsSettings
}

type APISettings struct {
	BaseURL        string
	SocketURL      string
	RequestTimeout time.Duration
}

type CacheSettings struct {
	TTL         time.Duration
	SettleDelay time.Duration
}

type ChannelSettings struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

type SessionSettings struct {
	Backend       SessionBackend
	Dir           string
	RedisAddr     string
	RedisPrefix   string
	CheckInterval time.Duration
	RefreshSkew   time.Duration
}

type MetricsSettings struct {
	Addr string
}
