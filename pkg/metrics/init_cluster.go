package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initClusterMetrics() {
	r.ClusterNodesTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "lockstep_cluster_nodes_total",
			Help: "Total number of configured nodes",
		},
	)

	r.ClusterActiveNodes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "lockstep_cluster_active_nodes",
			Help: "Nodes still taking part in the session",
		},
	)

	r.ClusterEpoch = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "lockstep_cluster_epoch",
			Help: "Number of membership changes since start",
		},
	)

	r.ClusterRole = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lockstep_cluster_role",
			Help: "Node role in cluster (1 for current role, 0 otherwise)",
		},
		[]string{"role"}, // primary, secondary, none
	)
}
