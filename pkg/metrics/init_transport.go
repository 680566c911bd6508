package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initTransportMetrics() {
	r.TransportRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockstep_transport_requests_total",
			Help: "Requests sent to the primary, by name and result",
		},
		[]string{"request", "result"}, // ok, send_failed, recv_failed, rejected
	)

	r.TransportRequestDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lockstep_transport_request_duration_seconds",
			Help:    "Round trip time of requests to the primary",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"request"},
	)

	r.RequestsServedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockstep_requests_served_total",
			Help: "Requests served by the primary, by name and error code",
		},
		[]string{"request", "code"},
	)

	r.ConnectedPeers = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "lockstep_connected_peers",
			Help: "Secondaries currently connected to the primary",
		},
	)
}
