package application

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnema/possync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doerFunc func(ctx context.Context, req Request) (*Response, error)

func (f doerFunc) Do(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

func okResponse(body string) *Response {
	return &Response{StatusCode: http.StatusOK, Body: []byte(body)}
}

type heldCall struct {
	ctx     context.Context
	req     Request
	release chan *Response
}

// heldDoer parks every request until the test releases it, ignoring
// cancellation so late results still come back.
type heldDoer struct {
	mu    sync.Mutex
	calls []*heldCall
}

func (d *heldDoer) Do(ctx context.Context, req Request) (*Response, error) {
	call := &heldCall{ctx: ctx, req: req, release: make(chan *Response, 1)}
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
	return <-call.release, nil
}

func (d *heldDoer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *heldDoer) call(i int) *heldCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[i]
}

func TestNormalizeKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/products/?a=1&b=2", NormalizeKey("/products/?b=2&a=1"))
	assert.Equal(t, "/products/?a=1&b=2", NormalizeKey("products/?a=1&b=2"))
	assert.Equal(t, "/products/", NormalizeKey(" /products/ "))
	assert.NotEqual(t, NormalizeKey("/products"), NormalizeKey("/products/"))
}

func TestOrchestratorOnlyLastRequestPerSubscriptionApplies(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(3, 5))
	for round := 0; round < 20; round++ {
		n := 2 + rng.IntN(5)
		doer := &heldDoer{}
		metrics := &recordingMetrics{}
		orchestrator := NewOrchestrator(doer, NewResponseCache(time.Minute, nil), 0, WithMetrics(metrics))

		results := make([][]byte, n)
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i], errs[i] = orchestrator.Fetch(context.Background(), "orders-list", "/purchase-orders/")
			}()
			require.Eventually(t, func() bool { return doer.count() == i+1 }, time.Second, time.Millisecond)
		}

		for _, i := range rng.Perm(n) {
			doer.call(i).release <- okResponse(fmt.Sprintf(`"v%d"`, i))
		}
		wg.Wait()

		last := fmt.Sprintf(`"v%d"`, n-1)
		for i := 0; i < n-1; i++ {
			require.ErrorIs(t, errs[i], domain.ErrSuperseded, "round %d request %d", round, i)
			assert.Nil(t, results[i])
			assert.Error(t, doer.call(i).ctx.Err(), "superseded request was not cancelled")
		}
		require.NoError(t, errs[n-1])
		assert.Equal(t, last, string(results[n-1]))

		latest, ok := orchestrator.Latest("orders-list")
		require.True(t, ok)
		assert.Equal(t, last, string(latest))

		cached, ok := orchestrator.Cache().Get("/purchase-orders/")
		require.True(t, ok)
		assert.Equal(t, last, string(cached))
		assert.Equal(t, n-1, metrics.superseded)
	}
}

func TestOrchestratorSupersededErrorIsNotSurfacedAsTransport(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	var calls atomic.Int32
	doer := doerFunc(func(ctx context.Context, req Request) (*Response, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return okResponse(`[]`), nil
	})
	orchestrator := NewOrchestrator(doer, nil, 0)

	firstErr := make(chan error, 1)
	go func() {
		_, err := orchestrator.Fetch(context.Background(), "sales", "/sales/?page=1")
		firstErr <- err
	}()
	<-started

	payload, err := orchestrator.Fetch(context.Background(), "sales", "/sales/?page=2")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(payload))
	require.ErrorIs(t, <-firstErr, domain.ErrSuperseded)

	_, ok := orchestrator.Cache().Get("/sales/?page=1")
	assert.False(t, ok)
}

func TestOrchestratorInvalidateForcesRefetch(t *testing.T) {
	t.Parallel()

	var version atomic.Int32
	doer := doerFunc(func(ctx context.Context, req Request) (*Response, error) {
		return okResponse(fmt.Sprintf(`{"version":%d}`, version.Add(1))), nil
	})
	metrics := &recordingMetrics{}
	orchestrator := NewOrchestrator(doer, NewResponseCache(time.Hour, nil), 0, WithMetrics(metrics))
	ctx := context.Background()

	first, err := orchestrator.Fetch(ctx, "", "/credits/?b=2&a=1")
	require.NoError(t, err)
	cached, err := orchestrator.Fetch(ctx, "", "/credits/?a=1&b=2")
	require.NoError(t, err)
	assert.Equal(t, string(first), string(cached))
	assert.Equal(t, int32(1), version.Load())

	assert.Equal(t, 1, orchestrator.Invalidate("/credits/?a=1&b=2"))
	fresh, err := orchestrator.Fetch(ctx, "", "/credits/?a=1&b=2")
	require.NoError(t, err)
	assert.NotEqual(t, string(first), string(fresh))
	assert.JSONEq(t, `{"version":2}`, string(fresh))

	_, err = orchestrator.Fetch(ctx, "", "/credits/")
	require.NoError(t, err)
	assert.Equal(t, int32(3), version.Load(), "prefix of a cached key must not be served")
	assert.Equal(t, 1, metrics.hits)
	assert.Equal(t, 3, metrics.misses)
}

func TestOrchestratorCacheEntriesExpire(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	var calls atomic.Int32
	doer := doerFunc(func(ctx context.Context, req Request) (*Response, error) {
		calls.Add(1)
		return okResponse(`{}`), nil
	})
	orchestrator := NewOrchestrator(doer, NewResponseCache(30*time.Second, clock), 0)

	_, err := orchestrator.Fetch(context.Background(), "", "/deposits/")
	require.NoError(t, err)
	clock.Advance(29 * time.Second)
	_, err = orchestrator.Fetch(context.Background(), "", "/deposits/")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	clock.Advance(time.Second)
	_, err = orchestrator.Fetch(context.Background(), "", "/deposits/")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOrchestratorErrorsLeaveCacheUntouched(t *testing.T) {
	t.Parallel()

	var fail atomic.Bool
	doer := doerFunc(func(ctx context.Context, req Request) (*Response, error) {
		if fail.Load() {
			return nil, fmt.Errorf("%w: connection refused", domain.ErrTransport)
		}
		return &Response{StatusCode: http.StatusNotFound, Body: []byte(`{"detail":"not found"}`)}, nil
	})
	orchestrator := NewOrchestrator(doer, nil, 0)

	_, err := orchestrator.Fetch(context.Background(), "", "/products/42/")
	var statusErr *domain.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)

	fail.Store(true)
	_, err = orchestrator.Fetch(context.Background(), "", "/products/42/")
	require.ErrorIs(t, err, domain.ErrTransport)
	assert.Zero(t, orchestrator.Cache().Len())
}

func TestFetchJSONDecodesPagedEnvelope(t *testing.T) {
	t.Parallel()

	doer := doerFunc(func(ctx context.Context, req Request) (*Response, error) {
		return okResponse(`{"count":1,"results":[{"id":"p1","name":"Rice","price_cents":250}]}`), nil
	})
	orchestrator := NewOrchestrator(doer, nil, 0)

	products, err := FetchJSON[[]domain.Product](context.Background(), orchestrator, "products", "/products/")
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, int64(250), products[0].PriceCents)
}

func TestForceRefreshWaitsThenRunsEveryRefetch(t *testing.T) {
	t.Parallel()

	doer := doerFunc(func(ctx context.Context, req Request) (*Response, error) {
		return okResponse(`{}`), nil
	})
	orchestrator := NewOrchestrator(doer, NewResponseCache(time.Hour, nil), 20*time.Millisecond)
	ctx := context.Background()
	_, err := orchestrator.Fetch(ctx, "", "/sales/")
	require.NoError(t, err)

	var ran atomic.Int32
	start := time.Now()
	err = orchestrator.ForceRefresh(ctx, []string{"/sales/"},
		func(context.Context) error { ran.Add(1); return nil },
		func(context.Context) error { ran.Add(1); return domain.ErrSuperseded },
	)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, int32(2), ran.Load())
	assert.Zero(t, orchestrator.Cache().Len())

	boom := errors.New("boom")
	err = orchestrator.ForceRefresh(ctx, nil,
		func(context.Context) error { return nil },
		func(context.Context) error { return boom },
	)
	require.ErrorIs(t, err, boom)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = orchestrator.ForceRefresh(cancelled, nil, func(context.Context) error {
		t.Fatal("refetch ran after cancellation")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestFetchIntoLaterRequestWaitsForEarlierCommit(t *testing.T) {
	t.Parallel()

	doer := doerFunc(func(ctx context.Context, req Request) (*Response, error) {
		return okResponse(`"v1"`), nil
	})
	orchestrator := NewOrchestrator(doer, nil, 0)
	ctx := context.Background()

	var mu sync.Mutex
	var commits []string
	record := func(who string) func(string) {
		return func(v string) {
			mu.Lock()
			defer mu.Unlock()
			commits = append(commits, who+":"+v)
		}
	}

	inCommit := make(chan struct{})
	release := make(chan struct{})
	first := make(chan error, 1)
	go func() {
		_, err := FetchInto(ctx, orchestrator, "products", "/products/", func(v string) {
			close(inCommit)
			<-release
			record("first")(v)
		})
		first <- err
	}()
	<-inCommit

	second := make(chan error, 1)
	go func() {
		_, err := FetchInto(ctx, orchestrator, "products", "/products/", record("second"))
		second <- err
	}()

	select {
	case <-second:
		t.Fatal("later request finished while the earlier commit was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)
	assert.Equal(t, []string{"first:v1", "second:v1"}, commits)
}

func TestFetchIntoSupersededResultIsNeverCommitted(t *testing.T) {
	t.Parallel()

	doer := &heldDoer{}
	orchestrator := NewOrchestrator(doer, nil, 0)
	state := NewState("", nil)
	ctx := context.Background()

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = FetchInto(ctx, orchestrator, "orders", "/purchase-orders/", state.Set)
		}()
		require.Eventually(t, func() bool { return doer.count() == i+1 }, time.Second, time.Millisecond)
	}

	doer.call(1).release <- okResponse(`"newer"`)
	require.Eventually(t, func() bool { return state.Get() == "newer" }, time.Second, time.Millisecond)
	doer.call(0).release <- okResponse(`"older"`)
	wg.Wait()

	require.ErrorIs(t, errs[0], domain.ErrSuperseded)
	require.NoError(t, errs[1])
	assert.Equal(t, "newer", state.Get())
}

func TestFetchIntoDecodeErrorLeavesCacheUntouched(t *testing.T) {
	t.Parallel()

	doer := doerFunc(func(ctx context.Context, req Request) (*Response, error) {
		return okResponse(`{"not":"a list"}`), nil
	})
	orchestrator := NewOrchestrator(doer, nil, 0)
	committed := false

	_, err := FetchInto(context.Background(), orchestrator, "products", "/products/", func([]domain.Product) { committed = true })
	require.ErrorContains(t, err, "decode /products/")
	assert.False(t, committed)
	_, cached := orchestrator.Cache().Get("/products/")
	assert.False(t, cached)
}
