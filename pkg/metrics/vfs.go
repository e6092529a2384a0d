package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// VFSMetrics records the outcome of filesystem facade operations.
//
// A nil VFSMetrics is never passed around: callers use NewVFSMetrics, which
// falls back to a no-op implementation when metrics are disabled.
type VFSMetrics interface {
	// RecordOperation records a completed operation (e.g. "LOOKUP", "READ")
	// with its duration and the error it returned, if any.
	RecordOperation(operation string, duration time.Duration, err error)

	// RecordBytes records bytes moved by READ ("read") or WRITE ("write").
	RecordBytes(direction string, bytes int)

	// SetBoundHandles reports the number of handles in the inode registry.
	SetBoundHandles(count int)
}

type vfsMetrics struct {
	operations   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	bytes        *prometheus.CounterVec
	boundHandles prometheus.Gauge
}

// NewVFSMetrics creates a Prometheus-backed VFSMetrics, or a no-op one when
// metrics are not enabled.
func NewVFSMetrics() VFSMetrics {
	if !IsEnabled() {
		return NewNoopVFSMetrics()
	}

	reg := GetRegistry()

	return &vfsMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "vfs",
				Name:      "operations_total",
				Help:      "Total number of filesystem operations by name and status",
			},
			[]string{"operation", "status"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "vfs",
				Name:      "operation_duration_milliseconds",
				Help:      "Duration of filesystem operations in milliseconds",
				Buckets: []float64{
					1,     // 1ms
					10,    // 10ms
					100,   // 100ms
					1000,  // 1s
					10000, // 10s
				},
			},
			[]string{"operation"},
		),
		bytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "vfs",
				Name:      "bytes_total",
				Help:      "Total bytes transferred by READ and WRITE",
			},
			[]string{"direction"},
		),
		boundHandles: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "vfs",
				Name:      "bound_handles",
				Help:      "Number of handles currently bound in the inode registry",
			},
		),
	}
}

func (m *vfsMetrics) RecordOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.operations.WithLabelValues(operation, status).Inc()
	m.duration.WithLabelValues(operation).Observe(float64(duration.Microseconds()) / 1000.0)
}

func (m *vfsMetrics) RecordBytes(direction string, bytes int) {
	if bytes > 0 {
		m.bytes.WithLabelValues(direction).Add(float64(bytes))
	}
}

func (m *vfsMetrics) SetBoundHandles(count int) {
	m.boundHandles.Set(float64(count))
}

type noopVFSMetrics struct{}

// NewNoopVFSMetrics returns a VFSMetrics that discards everything.
func NewNoopVFSMetrics() VFSMetrics {
	return noopVFSMetrics{}
}

func (noopVFSMetrics) RecordOperation(string, time.Duration, error) {}
func (noopVFSMetrics) RecordBytes(string, int) {}
func (noopVFSMetrics) SetBoundHandles(int) {}
