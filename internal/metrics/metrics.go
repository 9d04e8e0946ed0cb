// Package metrics provides Prometheus metrics for the UDP mirror relay.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "udpmirror"
)

// Metrics contains all Prometheus metrics for the relay.
type Metrics struct {
	// Receive side
	DatagramsReceived prometheus.Counter
	BytesReceived     prometheus.Counter
	DatagramSize      prometheus.Histogram
	ReceiveErrors     *prometheus.CounterVec

	// Send side, labelled by destination host:port
	DatagramsForwarded *prometheus.CounterVec
	BytesForwarded     *prometheus.CounterVec
	SendErrors         *prometheus.CounterVec
	FanoutLatency      prometheus.Histogram

	// State
	Destinations prometheus.Gauge
	Relaying     prometheus.Gauge
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the metrics instance registered with the default registry.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_received_total",
			Help:      "Total datagrams received on the receiver socket",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total payload bytes received on the receiver socket",
		}),
		DatagramSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "datagram_size_bytes",
			Help:      "Histogram of received payload sizes",
			Buckets:   []float64{64, 128, 256, 512, 1024, 1500, 1880, 4096, 16384, 65507},
		}),
		ReceiveErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receive_errors_total",
			Help:      "Total receive errors by kind (transient, fatal)",
		}, []string{"kind"}),

		DatagramsForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_forwarded_total",
			Help:      "Total datagrams forwarded by destination",
		}, []string{"destination"}),
		BytesForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_forwarded_total",
			Help:      "Total payload bytes forwarded by destination",
		}, []string{"destination"}),
		SendErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Total failed sends by destination",
		}, []string{"destination"}),
		FanoutLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fanout_latency_seconds",
			Help:      "Histogram of the time taken to forward one datagram to all destinations",
			Buckets:   []float64{.00001, .000025, .00005, .0001, .00025, .0005, .001, .0025, .005, .01},
		}),

		Destinations: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "destinations",
			Help:      "Number of configured mirror destinations",
		}),
		Relaying: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relaying",
			Help:      "1 while the relay loop is running",
		}),
	}
}

// RecordReceive records a datagram read from the receiver socket.
func (m *Metrics) RecordReceive(bytes int) {
	m.DatagramsReceived.Inc()
	m.BytesReceived.Add(float64(bytes))
	m.DatagramSize.Observe(float64(bytes))
}

// RecordReceiveError records a receive error of the given kind.
func (m *Metrics) RecordReceiveError(kind string) {
	m.ReceiveErrors.WithLabelValues(kind).Inc()
}

// RecordForward records a successful send to a destination.
func (m *Metrics) RecordForward(destination string, bytes int) {
	m.DatagramsForwarded.WithLabelValues(destination).Inc()
	m.BytesForwarded.WithLabelValues(destination).Add(float64(bytes))
}

// RecordSendError records a failed send to a destination.
func (m *Metrics) RecordSendError(destination string) {
	m.SendErrors.WithLabelValues(destination).Inc()
}

// RecordFanout records how long one fan-out pass took.
func (m *Metrics) RecordFanout(latencySeconds float64) {
	m.FanoutLatency.Observe(latencySeconds)
}

// SetDestinations sets the number of configured destinations.
func (m *Metrics) SetDestinations(count int) {
	m.Destinations.Set(float64(count))
}

// SetRelaying sets the relaying gauge.
func (m *Metrics) SetRelaying(relaying bool) {
	if relaying {
		m.Relaying.Set(1)
		return
	}
	m.Relaying.Set(0)
}
