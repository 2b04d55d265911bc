package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/possync/internal/domain"
	"github.com/bnema/possync/internal/ports"
	goredis "github.com/go-redis/redis/v8"
)

const DefaultPrefix = "possync:session"

// Store shares a session between terminals of the same till through Redis.
// Keys are namespaced as "<prefix>:<key>"; a zero TTL keeps values until deleted.
type Store struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

var _ ports.SecretStore = (*Store)(nil)

func NewStore(client *goredis.Client, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

// Dial connects to addr and verifies the server answers before returning a Store.
func Dial(ctx context.Context, addr string, prefix string) (*Store, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}

	return NewStore(client, prefix, 0), nil
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis put %q: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", fmt.Errorf("redis get %q: %w", key, domain.ErrSecretNotFound)
		}
		return "", fmt.Errorf("redis get %q: %w", key, err)
	}
	return value, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete %q: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(key string) string {
	return s.prefix + ":" + key
}
