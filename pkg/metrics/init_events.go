package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initEventMetrics() {
	r.EventsEmittedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockstep_events_emitted_total",
			Help: "Cluster events emitted, by kind and origin",
		},
		[]string{"kind", "origin"}, // json|binary, local|forwarded
	)

	r.EventsReplicatedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockstep_events_replicated_total",
			Help: "Cluster events delivered to local listeners",
		},
		[]string{"kind"},
	)

	r.EventsPending = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lockstep_events_pending",
			Help: "Events accumulated for the next rollover",
		},
		[]string{"kind"},
	)
}
