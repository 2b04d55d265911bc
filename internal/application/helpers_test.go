package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bnema/possync/internal/adapters/secrets/memory"
	"github.com/bnema/possync/internal/domain"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func mockAnyContext() interface{} {
	return mock.Anything
}

func newTestSession(t *testing.T, tokens domain.Tokens, user *domain.UserProfile) (*Session, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	ctx := context.Background()
	if tokens.Access != "" {
		require.NoError(t, store.Put(ctx, domain.SessionKeyAccessToken, tokens.Access))
	}
	if tokens.Refresh != "" {
		require.NoError(t, store.Put(ctx, domain.SessionKeyRefreshToken, tokens.Refresh))
	}
	session := NewSession(store)
	if user != nil {
		require.NoError(t, session.SetUser(ctx, *user))
	}
	return session, store
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingMetrics struct {
	mu         sync.Mutex
	refreshes  []string
	mutations  []string
	superseded int
	hits       int
	misses     int
	reconnects int
	states     []domain.ConnectionState
}

func (m *recordingMetrics) TokenRefresh(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes = append(m.refreshes, result)
}

func (m *recordingMetrics) GatewayResponse(int) {}

func (m *recordingMetrics) CacheLookup(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
}

func (m *recordingMetrics) RequestSuperseded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.superseded++
}

func (m *recordingMetrics) Mutation(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mutations = append(m.mutations, result)
}

func (m *recordingMetrics) ChannelReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnects++
}

func (m *recordingMetrics) ChannelMessage(string) {}

func (m *recordingMetrics) ChannelState(state domain.ConnectionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, state)
}
