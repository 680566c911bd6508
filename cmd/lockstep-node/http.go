package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/cluso-lockstep/pkg/health"
	"github.com/dd0wney/cluso-lockstep/pkg/metrics"
	"github.com/dd0wney/cluso-lockstep/pkg/session"
)

// statusRecorder captures the response code for the metrics middleware
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(reg *metrics.Registry, path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		reg.RecordHTTPRequest(r.Method, path, strconv.Itoa(rec.status), time.Since(start))
	})
}

// newMux wires the observability endpoints of one node
func newMux(s *session.Session, hc *health.HealthChecker, reg *metrics.Registry) *http.ServeMux {
	mux := http.NewServeMux()

	handle := func(path string, h http.Handler) {
		mux.Handle(path, instrument(reg, path, h))
	}

	handle("/metrics", promhttp.HandlerFor(reg.GetPrometheusRegistry(), promhttp.HandlerOpts{}))
	handle("/health", hc.HTTPHandler())
	handle("/ready", hc.ReadinessHandler())
	handle("/live", hc.LivenessHandler())
	handle("/status", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.Status())
	}))

	return mux
}
