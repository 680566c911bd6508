package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initBarrierMetrics() {
	r.BarrierWaitsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockstep_barrier_waits_total",
			Help: "Total number of barrier waits by gate and result",
		},
		[]string{"gate", "result"}, // Ok, Timeout, NotActive, Rejected
	)

	r.BarrierWaitDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lockstep_barrier_wait_duration_seconds",
			Help:    "Time spent blocked on a barrier",
			Buckets: frameBuckets,
		},
		[]string{"gate"},
	)

	r.BarrierParticipants = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lockstep_barrier_participants",
			Help: "Active participants of each barrier",
		},
		[]string{"gate"},
	)
}
