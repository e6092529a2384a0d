package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NFSMetrics records request and connection activity of the NFS adapter.
type NFSMetrics interface {
	// RecordRequest records a completed RPC procedure (e.g. "LOOKUP",
	// "MOUNT_MNT") with its duration and handler error.
	RecordRequest(procedure string, duration time.Duration, err error)

	// RecordRequestStart and RecordRequestEnd bracket a procedure so the
	// in-flight gauge stays accurate.
	RecordRequestStart(procedure string)
	RecordRequestEnd(procedure string)

	SetActiveConnections(count int32)
	RecordConnectionAccepted()
	RecordConnectionClosed()
}

type nfsMetrics struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	inFlight    *prometheus.GaugeVec
	connections prometheus.Gauge
	accepted    prometheus.Counter
	closed      prometheus.Counter
}

// NewNFSMetrics creates a Prometheus-backed NFSMetrics, or a no-op one when
// metrics are not enabled.
func NewNFSMetrics() NFSMetrics {
	if !IsEnabled() {
		return NewNoopNFSMetrics()
	}

	reg := GetRegistry()

	return &nfsMetrics{
		requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nfs",
				Name:      "requests_total",
				Help:      "Total number of NFS and MOUNT procedures by name and status",
			},
			[]string{"procedure", "status"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "nfs",
				Name:      "request_duration_milliseconds",
				Help:      "Duration of NFS procedures in milliseconds",
				Buckets:   []float64{1, 10, 100, 1000, 10000},
			},
			[]string{"procedure"},
		),
		inFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nfs",
				Name:      "requests_in_flight",
				Help:      "Number of NFS procedures currently executing",
			},
			[]string{"procedure"},
		),
		connections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nfs",
				Name:      "active_connections",
				Help:      "Number of open client connections",
			},
		),
		accepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nfs",
				Name:      "connections_accepted_total",
				Help:      "Total number of accepted client connections",
			},
		),
		closed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nfs",
				Name:      "connections_closed_total",
				Help:      "Total number of closed client connections",
			},
		),
	}
}

func (m *nfsMetrics) RecordRequest(procedure string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.requests.WithLabelValues(procedure, status).Inc()
	m.duration.WithLabelValues(procedure).Observe(float64(duration.Microseconds()) / 1000.0)
}

func (m *nfsMetrics) RecordRequestStart(procedure string) {
	m.inFlight.WithLabelValues(procedure).Inc()
}

func (m *nfsMetrics) RecordRequestEnd(procedure string) {
	m.inFlight.WithLabelValues(procedure).Dec()
}

func (m *nfsMetrics) SetActiveConnections(count int32) {
	m.connections.Set(float64(count))
}

func (m *nfsMetrics) RecordConnectionAccepted() {
	m.accepted.Inc()
}

func (m *nfsMetrics) RecordConnectionClosed() {
	m.closed.Inc()
}

type noopNFSMetrics struct{}

// NewNoopNFSMetrics returns an NFSMetrics that discards everything.
func NewNoopNFSMetrics() NFSMetrics {
	return noopNFSMetrics{}
}

func (noopNFSMetrics) RecordRequest(string, time.Duration, error) {}
func (noopNFSMetrics) RecordRequestStart(string)                  {}
func (noopNFSMetrics) RecordRequestEnd(string)                    {}
func (noopNFSMetrics) SetActiveConnections(int32)                 {}
func (noopNFSMetrics) RecordConnectionAccepted()                  {}
func (noopNFSMetrics) RecordConnectionClosed()                    {}
