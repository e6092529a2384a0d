package config

import (
	"github.com/marmos91/rodsnfs/pkg/metrics"
)

// MetricsResult holds the collectors created from configuration. None of
// them is ever nil: with metrics disabled they are no-ops.
type MetricsResult struct {
	Enabled  bool
	VFS      metrics.VFSMetrics
	Cache    metrics.CacheMetrics
	Identity metrics.IdentityMetrics
	NFS      metrics.NFSMetrics
}

// InitializeMetrics initializes the global Prometheus registry when cfg
// enables metrics and returns the matching collectors.
func InitializeMetrics(cfg *MetricsConfig) *MetricsResult {
	if !cfg.Enabled {
		return &MetricsResult{
			VFS:      metrics.NewNoopVFSMetrics(),
			Cache:    metrics.NewNoopCacheMetrics(),
			Identity: metrics.NewNoopIdentityMetrics(),
			NFS:      metrics.NewNoopNFSMetrics(),
		}
	}

	metrics.InitRegistry()
	return &MetricsResult{
		Enabled:  true,
		VFS:      metrics.NewVFSMetrics(),
		Cache:    metrics.NewCacheMetrics(),
		Identity: metrics.NewIdentityMetrics(),
		NFS:      metrics.NewNFSMetrics(),
	}
}
