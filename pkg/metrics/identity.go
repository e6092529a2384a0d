package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// IdentityMetrics records principal resolution outcomes and purges.
type IdentityMetrics interface {
	// RecordResolve records a resolution result: "cached", "resolved" or "not_found".
	RecordResolve(result string)

	// RecordPurge records a purge of the principal maps.
	RecordPurge()

	// SetPrincipals reports the number of cached principals.
	SetPrincipals(count int)
}

type identityMetrics struct {
	resolves   *prometheus.CounterVec
	purges     prometheus.Counter
	principals prometheus.Gauge
}

func NewIdentityMetrics() IdentityMetrics {
	if !IsEnabled() {
		return NewNoopIdentityMetrics()
	}

	reg := GetRegistry()

	return &identityMetrics{
		resolves: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "identity",
				Name:      "resolves_total",
				Help:      "Principal resolutions by result",
			},
			[]string{"result"},
		),
		purges: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "identity",
				Name:      "purges_total",
				Help:      "Number of times the principal maps were purged",
			},
		),
		principals: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "identity",
				Name:      "principals",
				Help:      "Number of cached principals",
			},
		),
	}
}

func (m *identityMetrics) RecordResolve(result string) {
	m.resolves.WithLabelValues(result).Inc()
}

func (m *identityMetrics) RecordPurge() {
	m.purges.Inc()
}

func (m *identityMetrics) SetPrincipals(count int) {
	m.principals.Set(float64(count))
}

type noopIdentityMetrics struct{}

func NewNoopIdentityMetrics() IdentityMetrics {
	return noopIdentityMetrics{}
}

func (noopIdentityMetrics) RecordResolve(string) {}
func (noopIdentityMetrics) RecordPurge() {}
func (noopIdentityMetrics) SetPrincipals(int) {}
