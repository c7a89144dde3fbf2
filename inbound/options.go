package inbound

import (
	"io"
	"log/slog"

	"github.com/ggoodman/proxy-virtualizer-go/internal/metrics"
	"github.com/ggoodman/proxy-virtualizer-go/protocol"
)

type options struct {
	log             *slog.Logger
	metrics         *metrics.Metrics
	protocolVersion int
	ids             protocol.PacketIDs
}

// Option configures a Decoder or a Bridge.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetrics shares an engine-wide metrics set.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithProtocol sets the protocol version the decoder accepts and the
// serverbound ids it parses with. Defaults to 769.
func WithProtocol(version int, ids protocol.PacketIDs) Option {
	return func(o *options) {
		o.protocolVersion = version
		o.ids = ids
	}
}

func buildOptions(opts []Option) options {
	o := options{
		log:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		protocolVersion: protocol.ProtocolVersion1_21_4,
		ids:             protocol.Play769,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New(nil)
	}
	return o
}
