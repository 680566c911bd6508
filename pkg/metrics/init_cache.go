package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initCacheMetrics() {
	r.CacheComputes = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lockstep_cache_computes",
			Help: "Values computed by the frame cache since start, by cell",
		},
		[]string{"cell"},
	)

	r.CacheHits = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "lockstep_cache_hits",
			Help: "Reads answered from the frame cache since start",
		},
	)

	r.CacheClears = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "lockstep_cache_clears",
			Help: "Frame cache clears since start",
		},
	)
}
