package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CacheMetrics records hits, misses and sizes of the named TTL caches
// ("stat", "access", "object_type", "groups").
type CacheMetrics interface {
	RecordHit(cache string)
	RecordMiss(cache string)
	SetSize(cache string, size int)
}

type cacheMetrics struct {
	lookups *prometheus.CounterVec
	size    *prometheus.GaugeVec
}

// NewCacheMetrics creates a Prometheus-backed CacheMetrics, or a no-op one
// when metrics are not enabled. One instance is shared by all caches.
func NewCacheMetrics() CacheMetrics {
	if !IsEnabled() {
		return NewNoopCacheMetrics()
	}

	reg := GetRegistry()

	return &cacheMetrics{
		lookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Cache lookups by cache name and result (hit or miss)",
			},
			[]string{"cache", "result"},
		),
		size: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "entries",
				Help:      "Number of entries currently held, including expired ones not yet dropped",
			},
			[]string{"cache"},
		),
	}
}

func (m *cacheMetrics) RecordHit(cache string) {
	m.lookups.WithLabelValues(cache, "hit").Inc()
}

func (m *cacheMetrics) RecordMiss(cache string) {
	m.lookups.WithLabelValues(cache, "miss").Inc()
}

func (m *cacheMetrics) SetSize(cache string, size int) {
	m.size.WithLabelValues(cache).Set(float64(size))
}

type noopCacheMetrics struct{}

func NewNoopCacheMetrics() CacheMetrics {
	return noopCacheMetrics{}
}

func (noopCacheMetrics) RecordHit(string) {}
func (noopCacheMetrics) RecordMiss(string) {}
func (noopCacheMetrics) SetSize(string, int) {}
