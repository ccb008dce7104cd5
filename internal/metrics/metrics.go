// Package metrics provides Prometheus instrumentation for snapshot runs and the history API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Snapshot outcomes
const (
	OutcomeCreated  = "created"
	OutcomeExisting = "existing"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
	OutcomeReplaced = "replaced"
)

var (
	// SnapshotsTotal counts snapshots by entity kind and outcome.
	SnapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hedge_snapshots_total",
		Help: "Snapshots processed, by entity kind and outcome",
	}, []string{"kind", "outcome"})

	// DegradedFieldsTotal counts fields defaulted after a provider failure.
	DegradedFieldsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hedge_snapshot_degraded_fields_total",
		Help: "Snapshot fields defaulted after a failed computation",
	}, []string{"field"})

	// RunDuration tracks the duration of whole snapshot runs.
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hedge_snapshot_run_duration_seconds",
		Help:    "Snapshot run duration in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})

	// CompanyDuration tracks the time spent on one company.
	CompanyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hedge_snapshot_company_duration_seconds",
		Help:    "Time to snapshot one company and its accounts",
		Buckets: prometheus.DefBuckets,
	})

	// RatesCacheFailures counts brokers whose rates cache could not be built.
	RatesCacheFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hedge_rates_cache_failures_total",
		Help: "Brokers whose rates cache failed to build",
	}, []string{"broker"})

	// LastRunTimestamp is the unix time of the last finished run.
	LastRunTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hedge_snapshot_last_run_timestamp_seconds",
		Help: "Unix time the last snapshot run finished",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hedge_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hedge_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "route"})
)

// ObserveSnapshot records one snapshot outcome
func ObserveSnapshot(kind, outcome string, degraded []string) {
	SnapshotsTotal.WithLabelValues(kind, outcome).Inc()
	for _, f := range degraded {
		DegradedFieldsTotal.WithLabelValues(f).Inc()
	}
}

// ObserveRun records a finished run
func ObserveRun(start time.Time) {
	RunDuration.Observe(time.Since(start).Seconds())
	LastRunTimestamp.SetToCurrentTime()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		// Route templates keep label cardinality bounded
		route := r.URL.Path
		if cr := mux.CurrentRoute(r); cr != nil {
			if tmpl, err := cr.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
