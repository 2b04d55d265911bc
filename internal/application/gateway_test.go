package application

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnema/possync/internal/domain"
	"github.com/bnema/possync/internal/ports/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gatewayFixture struct {
	gateway   *Gateway
	session   *Session
	exchanger *mocks.MockTokenExchanger
	metrics   *recordingMetrics
}

func newGatewayFixture(t *testing.T, serverURL string, tokens domain.Tokens) gatewayFixture {
	t.Helper()

	session, _ := newTestSession(t, tokens, nil)
	exchanger := mocks.NewMockTokenExchanger(t)
	metrics := &recordingMetrics{}
	refresher := NewRefresher(session, exchanger, WithMetrics(metrics))
	gateway, err := NewGateway(serverURL, nil, session, refresher, WithMetrics(metrics))
	require.NoError(t, err)

	return gatewayFixture{gateway: gateway, session: session, exchanger: exchanger, metrics: metrics}
}

func TestGatewayAttachesCredentialAndReturnsNon401AsIs(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "/api/products/", r.URL.Path)
		assert.Equal(t, "low", r.URL.Query().Get("stock"))
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"database unavailable"}`))
	}))
	t.Cleanup(server.Close)

	f := newGatewayFixture(t, server.URL+"/api", domain.Tokens{Access: "access-1", Refresh: "refresh-1"})

	resp, err := f.gateway.Do(context.Background(), Request{Path: "/products/?stock=low"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.False(t, resp.OK())
	assert.JSONEq(t, `{"detail":"database unavailable"}`, string(resp.Body))
}

func TestGatewayHonoursContentTypeOverride(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/csv", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(server.Close)

	f := newGatewayFixture(t, server.URL, domain.Tokens{Access: "access-1"})

	resp, err := f.gateway.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/products/import/",
		Body:   []byte("sku,name\n"),
		Header: http.Header{"Content-Type": []string{"text/csv"}},
	})
	require.NoError(t, err)
	assert.True(t, resp.OK())
}

func TestGatewayRefreshesOnceAndRetriesOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer access-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`[{"id":"p1"}]`))
	}))
	t.Cleanup(server.Close)

	f := newGatewayFixture(t, server.URL, domain.Tokens{Access: "access-1", Refresh: "refresh-1"})
	f.exchanger.EXPECT().RefreshAccessToken(mockAnyContext(), "refresh-1").Return("access-2", nil).Once()

	resp, err := f.gateway.Do(context.Background(), Request{Path: "/products/"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())

	access, err := f.session.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", access)
}

func TestGatewayReturnsSecond401WithoutAnotherRefresh(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	f := newGatewayFixture(t, server.URL, domain.Tokens{Access: "access-1", Refresh: "refresh-1"})
	f.exchanger.EXPECT().RefreshAccessToken(mockAnyContext(), "refresh-1").Return("access-2", nil).Once()

	resp, err := f.gateway.Do(context.Background(), Request{Path: "/sales/"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGatewayFailedRefreshExpiresSession(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	f := newGatewayFixture(t, server.URL, domain.Tokens{Access: "access-1", Refresh: "refresh-1"})
	f.exchanger.EXPECT().RefreshAccessToken(mockAnyContext(), "refresh-1").Return("", errors.New("token_not_valid")).Once()

	var events []domain.SessionEventKind
	f.session.OnChange(func(event domain.SessionEvent) { events = append(events, event.Kind) })

	_, err := f.gateway.Do(context.Background(), Request{Path: "/credits/"})
	require.ErrorIs(t, err, domain.ErrSessionExpired)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []domain.SessionEventKind{domain.SessionExpired}, events)

	tokens, err := f.session.Tokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Tokens{}, tokens)
	assert.Equal(t, []string{refreshResultFailure}, f.metrics.refreshes)
}

func TestGatewayMissingRefreshTokenExpiresWithoutRefreshCall(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	// no expectations: any call to the token endpoint fails the test
	f := newGatewayFixture(t, server.URL, domain.Tokens{Access: "access-1"})

	_, err := f.gateway.Do(context.Background(), Request{Path: "/deposits/"})
	require.ErrorIs(t, err, domain.ErrSessionExpired)
	assert.Equal(t, []string{refreshResultSkipped}, f.metrics.refreshes)
}

func TestGatewayAnonymousSessionFailsFast(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)

	f := newGatewayFixture(t, server.URL, domain.Tokens{})

	_, err := f.gateway.Do(context.Background(), Request{Path: "/products/"})
	require.ErrorIs(t, err, domain.ErrNoSession)
	assert.Zero(t, calls.Load())

	resp, err := f.gateway.Do(context.Background(), Request{Path: "/health/", Anonymous: true})
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, int32(1), calls.Load())
}

func TestGatewayWrapsTransportErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close()

	f := newGatewayFixture(t, baseURL, domain.Tokens{Access: "access-1", Refresh: "refresh-1"})

	_, err := f.gateway.Do(context.Background(), Request{Path: "/products/"})
	require.ErrorIs(t, err, domain.ErrTransport)
}

func TestGatewayConcurrent401sShareOneRefresh(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)

	f := newGatewayFixture(t, server.URL, domain.Tokens{Access: "access-1", Refresh: "refresh-1"})

	release := make(chan struct{})
	f.exchanger.EXPECT().RefreshAccessToken(mockAnyContext(), "refresh-1").RunAndReturn(func(context.Context, string) (string, error) {
		<-release
		return "access-2", nil
	}).Once()

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	statuses := make([]int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.gateway.Do(context.Background(), Request{Path: "/products/"})
			errs[i] = err
			if resp != nil {
				statuses[i] = resp.StatusCode
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, http.StatusOK, statuses[i])
	}
}

func TestGatewayCancelledCallerDoesNotExpireSession(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	f := newGatewayFixture(t, server.URL, domain.Tokens{Access: "access-1", Refresh: "refresh-1"})

	ctx, cancel := context.WithCancel(context.Background())
	f.exchanger.EXPECT().RefreshAccessToken(mockAnyContext(), "refresh-1").RunAndReturn(func(context.Context, string) (string, error) {
		cancel()
		time.Sleep(20 * time.Millisecond)
		return "access-2", nil
	}).Once()

	_, err := f.gateway.Do(ctx, Request{Path: "/products/"})
	require.ErrorIs(t, err, context.Canceled)

	require.Eventually(t, func() bool {
		access, err := f.session.AccessToken(context.Background())
		return err == nil && access == "access-2"
	}, time.Second, 5*time.Millisecond)
}
