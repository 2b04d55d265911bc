package chain

import (
	"context"
	"errors"
	"fmt"

	filestore "github.com/bnema/possync/internal/adapters/secrets/file"
	passstore "github.com/bnema/possync/internal/adapters/secrets/pass"
	"github.com/bnema/possync/internal/ports"
)

// Store writes the session to primary and uses fallback only when primary
// fails. After every successful Put the other backend's copy of the key is
// dropped, so a rotated access token can never be shadowed by an older one.
type Store struct {
	primary  ports.SecretStore
	fallback ports.SecretStore
}

var _ ports.SecretStore = (*Store)(nil)

var (
	errNilPrimaryStore  = errors.New("primary session store is nil")
	errNilFallbackStore = errors.New("fallback session store is nil")
)

func NewStore(primary ports.SecretStore, fallback ports.SecretStore) (*Store, error) {
	if primary == nil {
		return nil, errNilPrimaryStore
	}
	if fallback == nil {
		return nil, errNilFallbackStore
	}

	return &Store{primary: primary, fallback: fallback}, nil
}

func NewPassFirstWithFileFallback(namespace string, fileDir string) (*Store, error) {
	return NewStore(passstore.NewStore(namespace), filestore.NewStore(fileDir))
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	err := s.primary.Put(ctx, key, value)
	if err == nil {
		_ = s.fallback.Delete(ctx, key)
		return nil
	}
	if contextDone(err) {
		return err
	}

	if fallbackErr := s.fallback.Put(ctx, key, value); fallbackErr != nil {
		return fmt.Errorf("session put %q: primary: %w; fallback: %w", key, err, fallbackErr)
	}
	_ = s.primary.Delete(ctx, key)
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.primary.Get(ctx, key)
	if err == nil {
		return value, nil
	}
	if contextDone(err) {
		return "", err
	}

	value, fallbackErr := s.fallback.Get(ctx, key)
	if fallbackErr != nil {
		return "", fmt.Errorf("session get %q: primary: %w; fallback: %w", key, err, fallbackErr)
	}
	return value, nil
}

// Delete removes key from both backends. A failure on either side is reported
// since the surviving copy would bring a cleared session back.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.primary.Delete(ctx, key)
	if contextDone(err) {
		return err
	}

	return errors.Join(
		wrapDelete("primary", key, err),
		wrapDelete("fallback", key, s.fallback.Delete(ctx, key)),
	)
}

func wrapDelete(backend, key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("session delete %q: %s: %w", key, backend, err)
}

func contextDone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
