package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bnema/possync/internal/domain"
	"github.com/bnema/possync/internal/ports"
	"golang.org/x/sync/errgroup"
)

// Orchestrator serves reads through the response cache and keeps at most one
// live request per subscription. Results of superseded requests are dropped.
type Orchestrator struct {
	gateway     Doer
	cache       *ResponseCache
	settleDelay time.Duration
	logger      *slog.Logger
	metrics     ports.SyncMetrics

	mu       sync.Mutex
	inflight map[string]*inflightRequest
	latest   map[string][]byte
	busy     map[string]struct{}
}

type inflightRequest struct {
	cancel context.CancelFunc
}

func NewOrchestrator(gateway Doer, cache *ResponseCache, settleDelay time.Duration, opts ...Option) *Orchestrator {
	o := buildOptions(opts)
	if cache == nil {
		cache = NewResponseCache(0, o.clock)
	}
	return &Orchestrator{
		gateway:     gateway,
		cache:       cache,
		settleDelay: settleDelay,
		logger:      o.logger,
		metrics:     o.metrics,
		inflight:    map[string]*inflightRequest{},
		latest:      map[string][]byte{},
		busy:        map[string]struct{}{},
	}
}

// Fetch returns the payload for endpoint, cancelling any earlier request made
// for the same subscription. A request that gets superseded returns
// ErrSuperseded and leaves cache and Latest untouched. An empty subscription
// defaults to the endpoint key.
func (o *Orchestrator) Fetch(ctx context.Context, subscription, endpoint string) ([]byte, error) {
	return o.fetch(ctx, subscription, endpoint, nil)
}

// fetch runs commit, if set, under the orchestrator lock and only while this
// request is still the live one for subscription. A commit error leaves the
// cache untouched.
func (o *Orchestrator) fetch(ctx context.Context, subscription, endpoint string, commit func([]byte) error) ([]byte, error) {
	key := NormalizeKey(endpoint)
	if subscription == "" {
		subscription = key
	}

	reqCtx, current := o.begin(ctx, subscription)
	defer current.cancel()

	if payload, ok := o.cache.Get(key); ok {
		o.metrics.CacheLookup(true)
		return o.resolve(subscription, current, key, payload, false, commit)
	}
	o.metrics.CacheLookup(false)

	resp, err := o.gateway.Do(reqCtx, Request{Method: http.MethodGet, Path: endpoint})
	if err != nil {
		if !o.finish(subscription, current) {
			return nil, o.superseded(subscription)
		}
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	if !resp.OK() {
		if !o.finish(subscription, current) {
			return nil, o.superseded(subscription)
		}
		return nil, &domain.StatusError{Method: http.MethodGet, Endpoint: key, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	return o.resolve(subscription, current, key, resp.Body, true, commit)
}

func (o *Orchestrator) resolve(subscription string, current *inflightRequest, key string, payload []byte, store bool, commit func([]byte) error) ([]byte, error) {
	live, err := o.apply(subscription, current, key, payload, store, commit)
	if !live {
		return nil, o.superseded(subscription)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return payload, nil
}

// Latest returns the last payload applied for subscription.
func (o *Orchestrator) Latest(subscription string) ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	payload, ok := o.latest[subscription]
	return payload, ok
}

// Invalidate drops the cached entries for the given endpoints.
func (o *Orchestrator) Invalidate(endpoints ...string) int {
	removed := 0
	for _, endpoint := range endpoints {
		if o.cache.Invalidate(NormalizeKey(endpoint)) {
			removed++
		}
	}
	return removed
}

// ForceRefresh invalidates endpoints, waits the settle delay and runs every
// refetch concurrently. It fails if any refetch fails.
func (o *Orchestrator) ForceRefresh(ctx context.Context, endpoints []string, refetch ...func(context.Context) error) error {
	o.Invalidate(endpoints...)

	if o.settleDelay > 0 {
		timer := time.NewTimer(o.settleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return runConcurrently(ctx, refetch)
}

// Call issues a non-cached request and returns the body of a 2xx response.
func (o *Orchestrator) Call(ctx context.Context, req Request) ([]byte, error) {
	resp, err := o.gateway.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		method := req.Method
		if method == "" {
			method = http.MethodGet
		}
		return nil, &domain.StatusError{Method: method, Endpoint: NormalizeKey(req.Path), StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	return resp.Body, nil
}

func (o *Orchestrator) Cache() *ResponseCache {
	return o.cache
}

func (o *Orchestrator) begin(ctx context.Context, subscription string) (context.Context, *inflightRequest) {
	reqCtx, cancel := context.WithCancel(ctx)
	current := &inflightRequest{cancel: cancel}

	o.mu.Lock()
	previous := o.inflight[subscription]
	o.inflight[subscription] = current
	o.mu.Unlock()

	if previous != nil {
		previous.cancel()
		o.logger.Debug("request superseded", "subscription", subscription)
	}
	return reqCtx, current
}

// apply commits and stores payload only while current is still the live
// request, so a later request for subscription cannot be overwritten by this
// one.
func (o *Orchestrator) apply(subscription string, current *inflightRequest, key string, payload []byte, store bool, commit func([]byte) error) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.inflight[subscription] != current {
		return false, nil
	}
	delete(o.inflight, subscription)
	if commit != nil {
		if err := commit(payload); err != nil {
			return true, err
		}
	}
	if store {
		o.cache.Put(key, payload)
	}
	o.latest[subscription] = payload
	return true, nil
}

func (o *Orchestrator) finish(subscription string, current *inflightRequest) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.inflight[subscription] != current {
		return false
	}
	delete(o.inflight, subscription)
	return true
}

func (o *Orchestrator) superseded(subscription string) error {
	o.metrics.RequestSuperseded()
	o.logger.Debug("discarding superseded result", "subscription", subscription)
	return domain.ErrSuperseded
}

func (o *Orchestrator) acquire(entity string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.busy[entity]; ok {
		return false
	}
	o.busy[entity] = struct{}{}
	return true
}

func (o *Orchestrator) release(entity string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.busy, entity)
}

// FetchJSON fetches endpoint through o and decodes the payload into T.
func FetchJSON[T any](ctx context.Context, o *Orchestrator, subscription, endpoint string) (T, error) {
	return FetchInto[T](ctx, o, subscription, endpoint, nil)
}

// FetchInto is FetchJSON that also hands the decoded value to commit while the
// request is still the live one for subscription. commit runs under the
// orchestrator lock and must not call back into o.
func FetchInto[T any](ctx context.Context, o *Orchestrator, subscription, endpoint string, commit func(T)) (T, error) {
	var out T
	_, err := o.fetch(ctx, subscription, endpoint, func(payload []byte) error {
		if err := decodePayload(payload, &out); err != nil {
			return err
		}
		if commit != nil {
			commit(out)
		}
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// runConcurrently waits for every fn. Superseded results are not failures.
func runConcurrently(ctx context.Context, fns []func(context.Context) error) error {
	errs := make([]error, len(fns))
	var group errgroup.Group
	for i, fn := range fns {
		group.Go(func() error {
			if err := fn(ctx); err != nil && !errors.Is(err, domain.ErrSuperseded) {
				errs[i] = err
			}
			return nil
		})
	}
	_ = group.Wait()
	return errors.Join(errs...)
}
