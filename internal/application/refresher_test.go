package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bnema/possync/internal/domain"
	"github.com/bnema/possync/internal/ports/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefresherPersistsNewAccessToken(t *testing.T) {
	t.Parallel()

	session, store := newTestSession(t, domain.Tokens{Access: "access-1", Refresh: "refresh-1"}, nil)
	exchanger := mocks.NewMockTokenExchanger(t)
	exchanger.EXPECT().RefreshAccessToken(mockAnyContext(), "refresh-1").Return("access-2", nil).Once()

	access, ok := NewRefresher(session, exchanger).Refresh(context.Background())
	require.True(t, ok)
	assert.Equal(t, "access-2", access)

	stored, err := store.Get(context.Background(), domain.SessionKeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access-2", stored)
}

func TestRefresherFailureLeavesSessionUntouched(t *testing.T) {
	t.Parallel()

	session, _ := newTestSession(t, domain.Tokens{Access: "access-1", Refresh: "refresh-1"}, nil)
	exchanger := mocks.NewMockTokenExchanger(t)
	exchanger.EXPECT().RefreshAccessToken(mockAnyContext(), "refresh-1").Return("", errors.New("status 401")).Once()

	var events int
	session.OnChange(func(domain.SessionEvent) { events++ })

	_, ok := NewRefresher(session, exchanger).Refresh(context.Background())
	require.False(t, ok)

	tokens, err := session.Tokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Tokens{Access: "access-1", Refresh: "refresh-1"}, tokens)
	assert.Zero(t, events)
}

func TestSessionMonitorRefreshesNearExpiry(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	session, _ := newTestSession(t, domain.Tokens{Access: "access-1", Refresh: "refresh-1"}, nil)
	exchanger := mocks.NewMockTokenExchanger(t)
	exchanger.EXPECT().RefreshAccessToken(mockAnyContext(), "refresh-1").Return("access-2", nil).Once()

	expiries := map[string]time.Time{
		"access-1": clock.Now().Add(30 * time.Second),
		"access-2": clock.Now().Add(5 * time.Minute),
	}
	expiry := func(token string) (time.Time, bool) {
		at, ok := expiries[token]
		return at, ok
	}

	monitor := NewSessionMonitor(session, NewRefresher(session, exchanger), expiry, time.Minute, WithClock(clock))

	result, err := monitor.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Refreshed)
	assert.Equal(t, expiries["access-2"], result.ExpiresAt)

	result, err = monitor.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Refreshed)
}

func TestSessionMonitorExpiresSessionWhenRefreshFails(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	session, _ := newTestSession(t, domain.Tokens{Access: "access-1"}, nil)
	exchanger := mocks.NewMockTokenExchanger(t)
	expiry := func(string) (time.Time, bool) { return clock.Now().Add(-time.Second), true }

	monitor := NewSessionMonitor(session, NewRefresher(session, exchanger), expiry, time.Minute, WithClock(clock))

	_, err := monitor.Check(context.Background())
	require.ErrorIs(t, err, domain.ErrSessionExpired)

	_, err = monitor.Check(context.Background())
	require.ErrorIs(t, err, domain.ErrNoSession)
}

func TestSessionMonitorOpaqueTokensNeverRefresh(t *testing.T) {
	t.Parallel()

	session, _ := newTestSession(t, domain.Tokens{Access: "opaque", Refresh: "refresh-1"}, nil)
	exchanger := mocks.NewMockTokenExchanger(t)
	expiry := func(string) (time.Time, bool) { return time.Time{}, false }

	monitor := NewSessionMonitor(session, NewRefresher(session, exchanger), expiry, 0)

	result, err := monitor.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Known)
}

func TestSessionMonitorRunStopsOnExpiry(t *testing.T) {
	t.Parallel()

	session, _ := newTestSession(t, domain.Tokens{Access: "access-1", Refresh: "refresh-1"}, nil)
	exchanger := mocks.NewMockTokenExchanger(t)
	exchanger.EXPECT().RefreshAccessToken(mockAnyContext(), "refresh-1").Return("", errors.New("revoked")).Once()
	expiry := func(string) (time.Time, bool) { return time.Now(), true }

	monitor := NewSessionMonitor(session, NewRefresher(session, exchanger), expiry, time.Minute)

	err := monitor.Run(context.Background(), 10*time.Millisecond)
	require.ErrorIs(t, err, domain.ErrSessionExpired)

	require.Error(t, monitor.Run(context.Background(), 0))
}
