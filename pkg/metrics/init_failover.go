package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initFailoverMetrics() {
	r.FailoverActionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockstep_failover_actions_total",
			Help: "Failover decisions, by failure type and action",
		},
		[]string{"fail_type", "action"},
	)
}
