package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bnema/possync/internal/ports"
	"golang.org/x/sync/singleflight"
)

const (
	refreshResultSuccess = "success"
	refreshResultFailure = "failure"
	refreshResultSkipped = "skipped"
)

var errNoRefreshToken = errors.New("no refresh token stored")

// Refresher exchanges the refresh credential for a new access credential.
// Concurrent callers share one exchange. It never clears the session.
type Refresher struct {
	session   *Session
	exchanger ports.TokenExchanger
	logger    *slog.Logger
	metrics   ports.SyncMetrics
	group     singleflight.Group
}

func NewRefresher(session *Session, exchanger ports.TokenExchanger, opts ...Option) *Refresher {
	o := buildOptions(opts)
	return &Refresher{
		session:   session,
		exchanger: exchanger,
		logger:    o.logger,
		metrics:   o.metrics,
	}
}

// Refresh returns the new access token, or ok=false when none could be
// obtained. A cancelled ctx stops the wait but not the shared exchange.
func (r *Refresher) Refresh(ctx context.Context) (string, bool) {
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan("refresh", func() (any, error) {
		return r.refresh(shared)
	})

	select {
	case result := <-ch:
		if result.Err != nil {
			return "", false
		}
		return result.Val.(string), true
	case <-ctx.Done():
		return "", false
	}
}

func (r *Refresher) refresh(ctx context.Context) (string, error) {
	refreshToken, err := r.session.RefreshToken(ctx)
	if err != nil {
		r.metrics.TokenRefresh(refreshResultFailure)
		r.logger.Warn("read refresh token", "error", err)
		return "", err
	}
	if refreshToken == "" {
		r.metrics.TokenRefresh(refreshResultSkipped)
		r.logger.Debug("refresh skipped, no refresh token")
		return "", errNoRefreshToken
	}

	access, err := r.exchanger.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		r.metrics.TokenRefresh(refreshResultFailure)
		r.logger.Warn("refresh access token", "error", err)
		return "", err
	}

	if err := r.session.SetAccessToken(ctx, access); err != nil {
		r.metrics.TokenRefresh(refreshResultFailure)
		r.logger.Warn("persist refreshed access token", "error", err)
		return "", fmt.Errorf("persist access token: %w", err)
	}

	r.metrics.TokenRefresh(refreshResultSuccess)
	r.logger.Debug("access token refreshed")
	return access, nil
}
