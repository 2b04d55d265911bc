package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/bnema/possync/internal/domain"
	"github.com/bnema/possync/internal/ports"
)

// Session owns the access/refresh pair and the user profile. Values are read
// from the store once and cached; writes hit the store before the cache.
type Session struct {
	store ports.SecretStore

	mu        sync.RWMutex
	loaded    bool
	tokens    domain.Tokens
	user      *domain.UserProfile
	observers []sessionObserver
	nextID    int
}

type sessionObserver struct {
	id int
	fn func(domain.SessionEvent)
}

func NewSession(store ports.SecretStore) *Session {
	return &Session{store: store}
}

func (s *Session) Tokens(ctx context.Context) (domain.Tokens, error) {
	if err := s.load(ctx); err != nil {
		return domain.Tokens{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens, nil
}

func (s *Session) AccessToken(ctx context.Context) (string, error) {
	tokens, err := s.Tokens(ctx)
	return tokens.Access, err
}

func (s *Session) RefreshToken(ctx context.Context) (string, error) {
	tokens, err := s.Tokens(ctx)
	return tokens.Refresh, err
}

func (s *Session) Anonymous(ctx context.Context) (bool, error) {
	tokens, err := s.Tokens(ctx)
	if err != nil {
		return false, err
	}
	return tokens.Anonymous(), nil
}

// User returns the stored profile; ok is false when none was saved.
func (s *Session) User(ctx context.Context) (domain.UserProfile, bool, error) {
	if err := s.load(ctx); err != nil {
		return domain.UserProfile{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return domain.UserProfile{}, false, nil
	}
	return *s.user, true, nil
}

// SetTokens stores a new pair. An empty refresh keeps the current one.
func (s *Session) SetTokens(ctx context.Context, access, refresh string) error {
	if access == "" {
		return errors.New("access token is required")
	}
	if err := s.load(ctx); err != nil {
		return err
	}

	if err := s.store.Put(ctx, domain.SessionKeyAccessToken, access); err != nil {
		return fmt.Errorf("store access token: %w", err)
	}
	if refresh != "" {
		if err := s.store.Put(ctx, domain.SessionKeyRefreshToken, refresh); err != nil {
			return fmt.Errorf("store refresh token: %w", err)
		}
	}

	s.mu.Lock()
	s.tokens.Access = access
	if refresh != "" {
		s.tokens.Refresh = refresh
	}
	s.mu.Unlock()

	s.notify(domain.SessionEvent{Kind: domain.SessionTokensUpdated})
	return nil
}

func (s *Session) SetAccessToken(ctx context.Context, access string) error {
	return s.SetTokens(ctx, access, "")
}

func (s *Session) SetUser(ctx context.Context, user domain.UserProfile) error {
	if err := s.load(ctx); err != nil {
		return err
	}

	encoded, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user profile: %w", err)
	}
	if err := s.store.Put(ctx, domain.SessionKeyUser, string(encoded)); err != nil {
		return fmt.Errorf("store user profile: %w", err)
	}

	s.mu.Lock()
	s.user = &user
	s.mu.Unlock()
	return nil
}

// Clear destroys every stored session field.
func (s *Session) Clear(ctx context.Context) error {
	err := s.clear(ctx)
	s.notify(domain.SessionEvent{Kind: domain.SessionCleared})
	return err
}

// Expire clears the session and tells observers it expired rather than being
// logged out.
func (s *Session) Expire(ctx context.Context) error {
	err := s.clear(ctx)
	s.notify(domain.SessionEvent{Kind: domain.SessionExpired})
	return err
}

// OnChange registers fn for session events and returns its unsubscribe func.
// fn runs on the goroutine that changed the session.
func (s *Session) OnChange(fn func(domain.SessionEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.observers = append(s.observers, sessionObserver{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, observer := range s.observers {
			if observer.id == id {
				s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) clear(ctx context.Context) error {
	var errs []error
	for _, key := range domain.SessionKeys {
		if err := s.store.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}

	s.mu.Lock()
	s.loaded = true
	s.tokens = domain.Tokens{}
	s.user = nil
	s.mu.Unlock()

	return errors.Join(errs...)
}

func (s *Session) load(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}

	access, err := s.read(ctx, domain.SessionKeyAccessToken)
	if err != nil {
		return err
	}
	refresh, err := s.read(ctx, domain.SessionKeyRefreshToken)
	if err != nil {
		return err
	}
	rawUser, err := s.read(ctx, domain.SessionKeyUser)
	if err != nil {
		return err
	}

	var user *domain.UserProfile
	if rawUser != "" {
		var profile domain.UserProfile
		if err := json.Unmarshal([]byte(rawUser), &profile); err != nil {
			return fmt.Errorf("decode stored user profile: %w", err)
		}
		user = &profile
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		s.tokens = domain.Tokens{Access: access, Refresh: refresh}
		s.user = user
		s.loaded = true
	}
	return nil
}

func (s *Session) read(ctx context.Context, key string) (string, error) {
	value, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrSecretNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("read session %s: %w", key, err)
	}
	return value, nil
}

func (s *Session) notify(event domain.SessionEvent) {
	s.mu.RLock()
	observers := make([]func(domain.SessionEvent), 0, len(s.observers))
	for _, observer := range s.observers {
		observers = append(observers, observer.fn)
	}
	s.mu.RUnlock()

	for _, fn := range observers {
		fn(event)
	}
}
