package application

import (
	"log/slog"

	"github.com/bnema/possync/internal/ports"
)

type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics ports.SyncMetrics
	clock   ports.Clock
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(metrics ports.SyncMetrics) Option {
	return func(o *options) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

func WithClock(clock ports.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:  slog.New(slog.DiscardHandler),
		metrics: ports.NopMetrics{},
		clock:   ports.SystemClock{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
