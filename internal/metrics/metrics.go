// Package metrics provides Prometheus metrics for the name matcher.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal tracks matching runs by outcome
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "namelink",
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Total number of matching runs by outcome",
		},
		[]string{"outcome"},
	)

	// RunDuration tracks end-to-end run duration in seconds
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "namelink",
			Subsystem: "engine",
			Name:      "run_duration_seconds",
			Help:      "Duration of matching runs in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"metric", "strategy"},
	)

	// QueriesTotal tracks resolved queries by mapping source
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "namelink",
			Subsystem: "engine",
			Name:      "queries_total",
			Help:      "Total number of distinct queries by mapping source",
		},
		[]string{"source"},
	)

	// ScorerFailuresTotal tracks queries left unmatched by a failing scorer
	ScorerFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "namelink",
			Subsystem: "engine",
			Name:      "scorer_failures_total",
			Help:      "Total number of queries whose scoring failed",
		},
		[]string{"metric"},
	)

	// BatchesTotal tracks scheduler batches by status
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "namelink",
			Subsystem: "scheduler",
			Name:      "batches_total",
			Help:      "Total number of batches by status",
		},
		[]string{"status"},
	)

	// BatchDuration tracks how long a worker spends on one batch
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "namelink",
			Subsystem: "scheduler",
			Name:      "batch_duration_seconds",
			Help:      "Duration of batch processing in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	)

	// BatchesInFlight tracks batches currently held by workers
	BatchesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "namelink",
			Subsystem: "scheduler",
			Name:      "batches_in_flight",
			Help:      "Number of batches currently being processed",
		},
	)

	// HTTPRequestsTotal tracks API requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "namelink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	// HTTPRequestDuration tracks API request latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "namelink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of API requests in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)
)

// RecordRun records a finished run
func RecordRun(outcome, metric, strategy string, durationSeconds float64) {
	RunsTotal.WithLabelValues(outcome).Inc()
	RunDuration.WithLabelValues(metric, strategy).Observe(durationSeconds)
}

// RecordQueries adds per-source query counts
func RecordQueries(source string, n int) {
	QueriesTotal.WithLabelValues(source).Add(float64(n))
}

// RecordScorerFailures adds failed queries for a metric
func RecordScorerFailures(metric string, n int64) {
	if n > 0 {
		ScorerFailuresTotal.WithLabelValues(metric).Add(float64(n))
	}
}

// RecordBatch records a processed batch
func RecordBatch(status string, durationSeconds float64) {
	BatchesTotal.WithLabelValues(status).Inc()
	BatchDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records an API request
func RecordHTTPRequest(method, route, statusCode string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}
