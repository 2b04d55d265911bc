package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bnema/possync/internal/domain"
	"github.com/bnema/possync/internal/ports"
)

const defaultRefreshSkew = time.Minute

// ExpiryFunc reports when an access token expires; ok is false when unknown.
type ExpiryFunc func(token string) (time.Time, bool)

// SessionMonitor refreshes the access token ahead of its expiry, outside of
// any request.
type SessionMonitor struct {
	session   *Session
	refresher *Refresher
	expiry    ExpiryFunc
	skew      time.Duration
	clock     ports.Clock
	logger    *slog.Logger
}

func NewSessionMonitor(session *Session, refresher *Refresher, expiry ExpiryFunc, skew time.Duration, opts ...Option) *SessionMonitor {
	o := buildOptions(opts)
	if skew <= 0 {
		skew = defaultRefreshSkew
	}
	return &SessionMonitor{
		session:   session,
		refresher: refresher,
		expiry:    expiry,
		skew:      skew,
		clock:     o.clock,
		logger:    o.logger,
	}
}

type CheckResult struct {
	Refreshed bool
	ExpiresAt time.Time
	Known     bool
}

func (m *SessionMonitor) Check(ctx context.Context) (CheckResult, error) {
	access, err := m.session.AccessToken(ctx)
	if err != nil {
		return CheckResult{}, err
	}
	if access == "" {
		return CheckResult{}, domain.ErrNoSession
	}

	result := CheckResult{}
	if m.expiry != nil {
		result.ExpiresAt, result.Known = m.expiry(access)
	}
	if !result.Known || m.clock.Now().Add(m.skew).Before(result.ExpiresAt) {
		return result, nil
	}

	m.logger.Info("access token near expiry, refreshing", "expires_at", result.ExpiresAt)
	refreshed, ok := m.refresher.Refresh(ctx)
	if !ok {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		if err := m.session.Expire(ctx); err != nil {
			return result, fmt.Errorf("%w: clear session: %w", domain.ErrSessionExpired, err)
		}
		return result, domain.ErrSessionExpired
	}

	result.Refreshed = true
	if m.expiry != nil {
		result.ExpiresAt, result.Known = m.expiry(refreshed)
	}
	return result, nil
}

// Run checks every interval until ctx is done or the session is gone.
func (m *SessionMonitor) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("check interval must be positive")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := m.Check(ctx); err != nil {
			if errors.Is(err, domain.ErrSessionExpired) || errors.Is(err, domain.ErrNoSession) {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			m.logger.Warn("session check", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
