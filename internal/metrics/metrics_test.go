package metrics

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/bnema/possync/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCountsByLabel(t *testing.T) {
	t.Parallel()

	collector := New(prometheus.NewRegistry())

	collector.TokenRefresh(ResultSuccess)
	collector.TokenRefresh(ResultFailure)
	collector.TokenRefresh(ResultFailure)
	collector.GatewayResponse(200)
	collector.GatewayResponse(204)
	collector.GatewayResponse(401)
	collector.CacheLookup(true)
	collector.CacheLookup(false)
	collector.RequestSuperseded()
	collector.Mutation(ResultRolledBack)
	collector.ChannelReconnect()
	collector.ChannelMessage(DirectionInbound)
	collector.ChannelState(domain.StateReconnecting)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.tokenRefresh.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.tokenRefresh.WithLabelValues(ResultFailure)))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.gatewayRequests.WithLabelValues("2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.gatewayRequests.WithLabelValues("4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.superseded))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.mutations.WithLabelValues(ResultRolledBack)))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.reconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.channelMessages.WithLabelValues(DirectionInbound)))
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.channelState))
}

func TestStatusClass(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "5xx", statusClass(503))
	assert.Equal(t, "other", statusClass(0))
}

func TestServeExposesMetricsUntilCancelled(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	registry := prometheus.NewRegistry()
	New(registry).ChannelReconnect()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, registry) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
