package application

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bnema/possync/internal/domain"
	"github.com/bnema/possync/internal/ports"
)

const EndpointCurrentUser = "/users/me/"

type AuthService struct {
	session   *Session
	exchanger ports.TokenExchanger
	gateway   Doer
}

func NewAuthService(session *Session, exchanger ports.TokenExchanger, gateway Doer) *AuthService {
	return &AuthService{session: session, exchanger: exchanger, gateway: gateway}
}

// Login creates a session and stores the profile of the logged in user.
func (s *AuthService) Login(ctx context.Context, username, password string) (domain.UserProfile, error) {
	tokens, err := s.exchanger.ObtainTokens(ctx, username, password)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("obtain tokens: %w", err)
	}
	if err := s.session.SetTokens(ctx, tokens.Access, tokens.Refresh); err != nil {
		return domain.UserProfile{}, fmt.Errorf("store session: %w", err)
	}

	resp, err := s.gateway.Do(ctx, Request{Method: http.MethodGet, Path: EndpointCurrentUser})
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("fetch current user: %w", err)
	}
	if !resp.OK() {
		return domain.UserProfile{}, &domain.StatusError{Method: http.MethodGet, Endpoint: EndpointCurrentUser, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	var profile domain.UserProfile
	if err := resp.DecodeJSON(&profile); err != nil {
		return domain.UserProfile{}, err
	}
	if err := s.session.SetUser(ctx, profile); err != nil {
		return domain.UserProfile{}, err
	}
	return profile, nil
}

func (s *AuthService) Logout(ctx context.Context) error {
	if err := s.session.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// CurrentUser returns the stored profile, or ErrNoSession when anonymous.
func (s *AuthService) CurrentUser(ctx context.Context) (domain.UserProfile, error) {
	anonymous, err := s.session.Anonymous(ctx)
	if err != nil {
		return domain.UserProfile{}, err
	}
	if anonymous {
		return domain.UserProfile{}, domain.ErrNoSession
	}
	user, _, err := s.session.User(ctx)
	return user, err
}
