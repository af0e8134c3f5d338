package metrics

import (
	"bufio"
	"fmt"
	"net"
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
			Namespace: "schemaflow",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "schemaflow",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "schemaflow",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ruleEvals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "schemaflow",
			Subsystem: "rules",
			Name:      "evaluations_total",
			Help:      "Total number of rule set evaluations.",
		},
		[]string{"outcome"},
	)

	flowTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "schemaflow",
			Subsystem: "flows",
			Name:      "transitions_total",
			Help:      "Total number of flow session transition attempts.",
		},
		[]string{"status"},
	)

	mappingCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "schemaflow",
			Subsystem: "mappings",
			Name:      "calls_total",
			Help:      "Total number of outbound mapping calls.",
		},
		[]string{"status"},
	)

	mappingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "schemaflow",
			Subsystem: "mappings",
			Name:      "call_duration_seconds",
			Help:      "Duration of outbound mapping calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"status"},
	)

	mappingRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "schemaflow",
			Subsystem: "mappings",
			Name:      "call_retries_total",
			Help:      "Total number of retried mapping call attempts.",
		},
	)

	schedulerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "schemaflow",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Total number of scheduled job dispatches.",
		},
		[]string{"job_id", "success"},
	)

	schedulerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "schemaflow",
			Subsystem: "scheduler",
			Name:      "job_run_duration_seconds",
			Help:      "Duration of scheduled job executions.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"job_id"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "schemaflow",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total number of mapping response cache lookups.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ruleEvals,
		flowTransitions,
		mappingCalls,
		mappingDuration,
		mappingRetries,
		schedulerRuns,
		schedulerDuration,
		cacheLookups,
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

// RecordRuleEval records one rule set evaluation.
func RecordRuleEval(matched bool, err error) {
	outcome := "unmatched"
	switch {
	case err != nil:
		outcome = "error"
	case matched:
		outcome = "matched"
	}
	ruleEvals.WithLabelValues(outcome).Inc()
}

// RecordFlowTransition records one flow session transition attempt.
func RecordFlowTransition(status string) {
	if status == "" {
		status = "unknown"
	}
	flowTransitions.WithLabelValues(status).Inc()
}

// RecordMappingCall records one outbound mapping call.
func RecordMappingCall(status string, attempts int, duration time.Duration) {
	if status == "" {
		status = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	mappingCalls.WithLabelValues(status).Inc()
	mappingDuration.WithLabelValues(status).Observe(duration.Seconds())
	if attempts > 1 {
		mappingRetries.Add(float64(attempts - 1))
	}
}

// RecordJobRun records one scheduled job dispatch.
func RecordJobRun(jobID string, duration time.Duration, success bool) {
	if jobID == "" {
		jobID = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	result := "false"
	if success {
		result = "true"
	}
	schedulerRuns.WithLabelValues(jobID, result).Inc()
	schedulerDuration.WithLabelValues(jobID).Observe(duration.Seconds())
}

// RecordCacheLookup records one mapping response cache lookup.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(result).Inc()
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

// Hijack keeps websocket upgrades working behind the instrumentation.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// canonicalPath collapses tenant slugs and resource IDs so metric label
// cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "v1" {
		parts = parts[2:]
	}
	if len(parts) == 0 {
		return "/"
	}
	if parts[0] != "tenants" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/tenants"
	}
	if len(parts) == 2 {
		return "/tenants/:tenant"
	}
	return "/tenants/:tenant/" + parts[2]
}
