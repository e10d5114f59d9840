// Package metrics exposes Prometheus collectors for the HTTP surface and the
// deposit workflow.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "goalvault",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goalvault",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "goalvault",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	depositAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goalvault",
			Subsystem: "deposits",
			Name:      "attempts_total",
			Help:      "Deposit attempts by terminal outcome.",
		},
		[]string{"outcome", "reason"},
	)

	depositDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "goalvault",
			Subsystem: "deposits",
			Name:      "attempt_duration_seconds",
			Help:      "Wall time from initiation to a terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 500ms to ~17min
		},
		[]string{"outcome"},
	)

	reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goalvault",
			Subsystem: "deposits",
			Name:      "reconciliations_total",
			Help:      "Reconciler resolutions of dangling deposits.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		depositAttempts,
		depositDuration,
		reconciliations,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordDepositOutcome records a deposit attempt reaching a terminal state.
func RecordDepositOutcome(outcome, reason string, duration time.Duration) {
	if reason == "" {
		reason = "none"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	depositAttempts.WithLabelValues(outcome, reason).Inc()
	depositDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordReconciliation records one reconciler resolution.
func RecordReconciliation(result string) {
	reconciliations.WithLabelValues(result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses identifiers so metric label cardinality stays flat.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "goals":
		if len(parts) == 1 {
			return "/goals"
		}
		if parts[1] == "funding" {
			return "/goals/funding"
		}
		if len(parts) > 2 {
			return "/goals/:id/" + parts[2]
		}
		return "/goals/:id"
	case "deposits":
		if len(parts) == 1 {
			return "/deposits"
		}
		if len(parts) > 2 {
			return "/deposits/:id/" + parts[2]
		}
		return "/deposits/:id"
	}
	return "/" + parts[0]
}
