package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bnema/possync/internal/domain"
	"github.com/bnema/possync/internal/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultSuccess    = "success"
	ResultFailure    = "failure"
	ResultSkipped    = "skipped"
	ResultRolledBack = "rolled_back"

	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Collector implements ports.SyncMetrics on a prometheus registry.
type Collector struct {
	tokenRefresh    *prometheus.CounterVec
	gatewayRequests *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	superseded      prometheus.Counter
	mutations       *prometheus.CounterVec
	reconnects      prometheus.Counter
	channelMessages *prometheus.CounterVec
	channelState    prometheus.Gauge
}

var _ ports.SyncMetrics = (*Collector)(nil)

// New registers the collectors on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		tokenRefresh: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "possync_token_refresh_total",
			Help: "Access credential refresh attempts by result.",
		}, []string{"result"}),
		gatewayRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "possync_gateway_requests_total",
			Help: "Responses seen by the session gateway by status class.",
		}, []string{"status_class"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "possync_cache_lookups_total",
			Help: "Response cache lookups by result.",
		}, []string{"result"}),
		superseded: factory.NewCounter(prometheus.CounterOpts{
			Name: "possync_requests_superseded_total",
			Help: "Requests whose result was discarded because a newer request started.",
		}),
		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "possync_mutations_total",
			Help: "Optimistic mutations by result.",
		}, []string{"result"}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "possync_channel_reconnects_total",
			Help: "Scheduled reconnect attempts of the realtime channel.",
		}),
		channelMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "possync_channel_messages_total",
			Help: "Realtime frames by direction.",
		}, []string{"direction"}),
		channelState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "possync_channel_state",
			Help: "Realtime channel state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed).",
		}),
	}
}

func (c *Collector) TokenRefresh(result string) {
	c.tokenRefresh.WithLabelValues(result).Inc()
}

func (c *Collector) GatewayResponse(statusCode int) {
	c.gatewayRequests.WithLabelValues(statusClass(statusCode)).Inc()
}

func (c *Collector) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

func (c *Collector) RequestSuperseded() {
	c.superseded.Inc()
}

func (c *Collector) Mutation(result string) {
	c.mutations.WithLabelValues(result).Inc()
}

func (c *Collector) ChannelReconnect() {
	c.reconnects.Inc()
}

func (c *Collector) ChannelMessage(direction string) {
	c.channelMessages.WithLabelValues(direction).Inc()
}

func (c *Collector) ChannelState(state domain.ConnectionState) {
	c.channelState.Set(float64(state.Index()))
}

func statusClass(statusCode int) string {
	if statusCode < 100 || statusCode > 599 {
		return "other"
	}
	return strconv.Itoa(statusCode/100) + "xx"
}

// Serve exposes /metrics for gatherer on addr until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve metrics on %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	}
}
