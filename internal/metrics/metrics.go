package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RelayMetrics holds every collector exported by the relay.
type RelayMetrics struct {
	registry *prometheus.Registry

	// Inbound frames by message type
	MessagesTotal *prometheus.CounterVec
	// Frames dropped by the codec
	MalformedFramesTotal prometheus.Counter

	// Live WebSocket connections
	Connections prometheus.Gauge
	// 1 while a device connection is registered
	DeviceOnline prometheus.Gauge

	CommandsForwardedTotal prometheus.Counter
	CommandFailuresTotal   *prometheus.CounterVec
	StatusBroadcastsTotal  prometheus.Counter

	StoreOperationsTotal *prometheus.CounterVec
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *RelayMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &RelayMetrics{
		registry: reg,

		MessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pumprelay_messages_total",
				Help: "Inbound frames by message type",
			},
			[]string{"type"},
		),
		MalformedFramesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pumprelay_malformed_frames_total",
				Help: "Frames that could not be decoded and were dropped",
			},
		),
		Connections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pumprelay_connections",
				Help: "Currently open WebSocket connections",
			},
		),
		DeviceOnline: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pumprelay_device_online",
				Help: "Whether a device connection is currently identified",
			},
		),
		CommandsForwardedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pumprelay_commands_forwarded_total",
				Help: "Commands forwarded to the device",
			},
		),
		CommandFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pumprelay_command_failures_total",
				Help: "Commands that could not be forwarded, by reason",
			},
			[]string{"reason"},
		),
		StatusBroadcastsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pumprelay_status_broadcasts_total",
				Help: "Device status updates delivered to dashboards",
			},
		),
		StoreOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pumprelay_store_operations_total",
				Help: "Log store operations by operation and result",
			},
			[]string{"op", "result"},
		),
	}
}

// ObserveStore records a log store operation outcome.
func (m *RelayMetrics) ObserveStore(op, result string) {
	m.StoreOperationsTotal.WithLabelValues(op, result).Inc()
}

// Registry exposes the underlying registry, mostly for tests.
func (m *RelayMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *RelayMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
