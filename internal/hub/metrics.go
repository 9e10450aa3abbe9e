package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects delivery-core metrics. All metrics register against the
// given registerer; pass prometheus.DefaultRegisterer in production and a
// fresh registry in tests.
type Metrics struct {
	// ConnectedDevices tracks devices with a live transport.
	ConnectedDevices prometheus.Gauge

	// OnlineAccounts tracks accounts with at least one connected device.
	OnlineAccounts prometheus.Gauge

	// MessagesDispatched counts accepted message dispatches.
	MessagesDispatched prometheus.Counter

	// SendsDropped counts sends to devices that were not registered.
	SendsDropped prometheus.Counter

	// HeartbeatEvictions counts devices force-unregistered after a missed
	// liveness probe.
	HeartbeatEvictions prometheus.Counter

	// TypingExpirations counts typing flags cleared by TTL sweep rather
	// than an explicit stop.
	TypingExpirations prometheus.Counter

	// DispatchDuration measures end-to-end message dispatch latency.
	DispatchDuration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectedDevices: factory.NewGauge(prometheus.GaugeOpts{
			Name: "messenger_connected_devices",
			Help: "Number of devices with a live transport.",
		}),
		OnlineAccounts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "messenger_online_accounts",
			Help: "Number of accounts with at least one connected device.",
		}),
		MessagesDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "messenger_messages_dispatched_total",
			Help: "Total message dispatches accepted by the fan-out dispatcher.",
		}),
		SendsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "messenger_sends_dropped_total",
			Help: "Total sends dropped because the target device was not registered.",
		}),
		HeartbeatEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "messenger_heartbeat_evictions_total",
			Help: "Total devices unregistered after failing a liveness probe.",
		}),
		TypingExpirations: factory.NewCounter(prometheus.CounterOpts{
			Name: "messenger_typing_expirations_total",
			Help: "Total typing flags cleared by TTL sweep.",
		}),
		DispatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "messenger_dispatch_duration_seconds",
			Help:    "Message dispatch latency from acceptance to fan-out completion.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}
}
