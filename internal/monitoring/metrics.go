// Package monitoring exposes the core's Prometheus collectors and the
// monitor event vocabulary sockets emit to user-attached watchers.
package monitoring

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for one process.
type Metrics struct {
	// Connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectsTotal     *prometheus.CounterVec
	AcceptsTotal      *prometheus.CounterVec
	Reconnects        prometheus.Counter
	HandshakeFailures prometheus.Counter

	// Message metrics
	MsgsSent     *prometheus.CounterVec
	MsgsReceived *prometheus.CounterVec
	BytesSent    prometheus.Counter
	BytesRecv    prometheus.Counter

	// Flow control
	HWMStalls prometheus.Counter

	// Socket metrics
	SocketsActive prometheus.Gauge
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide metrics, registering the collectors on
// first use.
func Default() *Metrics {
	metricsOnce.Do(func() { defaultMetrics = newMetrics() })
	return defaultMetrics
}

func newMetrics() *Metrics {
	return &Metrics{
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "courier_connections_active",
			Help: "Currently established transport connections",
		}),
		ConnectsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_connects_total",
			Help: "Outbound connection attempts by transport",
		}, []string{"transport"}),
		AcceptsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_accepts_total",
			Help: "Accepted inbound connections by transport",
		}, []string{"transport"}),
		Reconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courier_reconnects_total",
			Help: "Reconnect attempts after connection loss",
		}),
		HandshakeFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courier_handshake_failures_total",
			Help: "Greeting or protocol handshake failures",
		}),
		MsgsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_messages_sent_total",
			Help: "Messages sent by socket type",
		}, []string{"socket"}),
		MsgsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_messages_received_total",
			Help: "Messages received by socket type",
		}, []string{"socket"}),
		BytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courier_bytes_sent_total",
			Help: "Payload bytes written to transports",
		}),
		BytesRecv: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courier_bytes_received_total",
			Help: "Payload bytes read from transports",
		}),
		HWMStalls: promauto.NewCounter(prometheus.CounterOpts{
			Name: "courier_hwm_stalls_total",
			Help: "Sends refused or blocked by a full pipe",
		}),
		SocketsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "courier_sockets_active",
			Help: "Open sockets",
		}),
	}
}
