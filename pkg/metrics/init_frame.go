package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// frameBuckets are tuned around 60 Hz and 30 Hz frame times
var frameBuckets = []float64{0.004, 0.008, 0.012, 0.0167, 0.025, 0.0333, 0.05, 0.1, 0.25, 1}

func (r *Registry) initFrameMetrics() {
	r.FramesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "lockstep_frames_total",
			Help: "Total number of frames completed",
		},
	)

	r.FrameDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lockstep_frame_duration_seconds",
			Help:    "Wall time of one frame from FrameStart to SwapSync",
			Buckets: frameBuckets,
		},
	)

	r.CurrentFrame = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "lockstep_current_frame",
			Help: "Number of the last completed frame",
		},
	)
}
