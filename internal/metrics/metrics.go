// Package metrics holds the Prometheus collectors shared by the engine's
// components. One *Metrics is created per engine and handed to each
// component; components that are built standalone create their own against
// a private registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "vserver"

// Result label values.
const (
	ResultOK          = "ok"
	ResultRefused     = "refused"
	ResultFailed      = "failed"
	ResultAlready     = "already_connected"
	ResultUnsupported = "unsupported_protocol"
	ResultRolledBack  = "rolled_back"
	ResultStale       = "stale_server"
)

// Metrics is the set of engine collectors.
type Metrics struct {
	// PacketsTotal counts outbound packet attempts by packet key and result.
	PacketsTotal *prometheus.CounterVec
	// ConnectsTotal counts Connect outcomes.
	ConnectsTotal *prometheus.CounterVec
	// ReconnectsTotal counts backend moves by mode (confirmed, async) and result.
	ReconnectsTotal *prometheus.CounterVec
	// SignalsDecoded counts inbound signals by kind.
	SignalsDecoded *prometheus.CounterVec
	// DecodeErrors counts dropped inbound packets.
	DecodeErrors prometheus.Counter
	// VirtualServers is the number of launched virtual servers.
	VirtualServers prometheus.Gauge
}

// New registers the collectors with reg. A nil reg uses a fresh private
// registry, which keeps independently built components from colliding.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		PacketsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "packets_total",
			Help:      "Outbound virtual packets by packet key and result",
		}, []string{"packet", "result"}),

		ConnectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "connects_total",
			Help:      "Virtual server connect attempts by result",
		}, []string{"result"}),

		ReconnectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "backend_reconnects_total",
			Help:      "Clients moved back to real backends by mode and result",
		}, []string{"mode", "result"}),

		SignalsDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "signals_decoded_total",
			Help:      "Signals decoded from inbound packets by kind",
		}, []string{"kind"}),

		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "decode_errors_total",
			Help:      "Inbound packets dropped because they failed to decode",
		}),

		VirtualServers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "virtual_servers",
			Help:      "Currently launched virtual servers",
		}),
	}
}
