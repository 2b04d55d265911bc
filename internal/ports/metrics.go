package ports

import "github.com/bnema/possync/internal/domain"

// SyncMetrics receives counters from the sync layer.
type SyncMetrics interface {
	TokenRefresh(result string)
	GatewayResponse(statusCode int)
	CacheLookup(hit bool)
	RequestSuperseded()
	Mutation(result string)
	ChannelReconnect()
	ChannelMessage(direction string)
	ChannelState(state domain.ConnectionState)
}

type NopMetrics struct{}

func (NopMetrics) TokenRefresh(string)                 {}
func (NopMetrics) GatewayResponse(int)                 {}
func (NopMetrics) CacheLookup(bool)                    {}
func (NopMetrics) RequestSuperseded()                  {}
func (NopMetrics) Mutation(string)                     {}
func (NopMetrics) ChannelReconnect()                   {}
func (NopMetrics) ChannelMessage(string)               {}
func (NopMetrics) ChannelState(domain.ConnectionState) {}
