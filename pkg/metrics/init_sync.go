package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initSyncMetrics() {
	r.SyncObjectsExportedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockstep_sync_objects_exported_total",
			Help: "Dirty sync objects exported, by group",
		},
		[]string{"group"},
	)

	r.SyncObjectsImportedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockstep_sync_objects_imported_total",
			Help: "Sync objects imported, by group and result",
		},
		[]string{"group", "result"}, // applied, failed, unknown
	)
}
