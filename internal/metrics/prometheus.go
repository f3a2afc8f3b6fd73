package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the snapshot ingestion service

var (
	// Provider call metrics
	APICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papp_api_calls_total",
			Help: "Total number of odds provider API calls",
		},
		[]string{"endpoint", "status"},
	)

	APICallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "papp_api_call_duration_seconds",
			Help:    "Duration of odds provider API calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	APIRequestsRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "papp_api_requests_remaining",
			Help: "Provider quota remaining as reported by the last response",
		},
	)

	APIRequestsUsed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "papp_api_requests_used",
			Help: "Provider quota used as reported by the last response",
		},
	)

	// Sweep metrics
	SweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papp_sweeps_total",
			Help: "Total number of sweeps by type and status",
		},
		[]string{"type", "status"},
	)

	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "papp_sweep_duration_seconds",
			Help:    "Duration of sweeps in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"type"},
	)

	LastSuccessfulSweep = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "papp_last_successful_sweep_timestamp",
			Help: "Timestamp of the last successful sweep by type",
		},
		[]string{"type"},
	)

	// Domain counters
	MatchesDiscovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papp_matches_discovered_total",
			Help: "Total number of new matches persisted by discovery",
		},
		[]string{"league"},
	)

	JobsScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papp_snapshot_jobs_scheduled_total",
			Help: "Total number of snapshot jobs enqueued",
		},
		[]string{"source"},
	)

	SnapshotOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papp_snapshot_outcomes_total",
			Help: "Snapshot collector outcomes (collected, or skipped by reason)",
		},
		[]string{"outcome", "reason"},
	)

	ScoresBackfilled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papp_scores_backfilled_total",
			Help: "Total number of match results written by the score backfill",
		},
		[]string{"league"},
	)

	// Queue metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "papp_queue_depth",
			Help: "Number of snapshot jobs in the queue by state",
		},
		[]string{"state"},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papp_jobs_processed_total",
			Help: "Snapshot jobs handled by the worker pool by disposition",
		},
		[]string{"disposition"},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papp_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// Worker metrics
	WorkerLoopIterations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "papp_worker_loop_iterations_total",
			Help: "Total number of queue polling iterations",
		},
	)

	// System metrics
	SystemUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "papp_system_uptime_seconds",
			Help: "System uptime in seconds",
		},
	)

	DBConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "papp_db_connections_active",
			Help: "Number of active database connections",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "papp_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)

// RecordAPICall records a provider API call metric
func RecordAPICall(endpoint, status string, duration float64) {
	APICallsTotal.WithLabelValues(endpoint, status).Inc()
	APICallDuration.WithLabelValues(endpoint).Observe(duration)
}

// RecordQuota records the provider quota headers
func RecordQuota(remaining, used float64) {
	APIRequestsRemaining.Set(remaining)
	APIRequestsUsed.Set(used)
}

// RecordSweep records a sweep run
func RecordSweep(sweepType, status string, duration float64) {
	SweepsTotal.WithLabelValues(sweepType, status).Inc()
	SweepDuration.WithLabelValues(sweepType).Observe(duration)

	if status == "success" {
		LastSuccessfulSweep.WithLabelValues(sweepType).SetToCurrentTime()
	}
}

// RecordDiscovered records newly persisted matches for a league
func RecordDiscovered(league string, count int) {
	MatchesDiscovered.WithLabelValues(league).Add(float64(count))
}

// RecordScheduled records enqueued snapshot jobs
func RecordScheduled(source string, count int) {
	JobsScheduled.WithLabelValues(source).Add(float64(count))
}

// RecordSnapshotOutcome records one collector outcome
func RecordSnapshotOutcome(outcome, reason string) {
	SnapshotOutcomes.WithLabelValues(outcome, reason).Inc()
}

// RecordBackfilled records written match results for a league
func RecordBackfilled(league string, count int) {
	ScoresBackfilled.WithLabelValues(league).Add(float64(count))
}

// RecordJob records how the worker pool disposed of a job
func RecordJob(disposition string) {
	JobsProcessed.WithLabelValues(disposition).Inc()
}

// UpdateQueueDepth updates queue depth gauges
func UpdateQueueDepth(due, inflight int64) {
	QueueDepth.WithLabelValues("due").Set(float64(due))
	QueueDepth.WithLabelValues("inflight").Set(float64(inflight))
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// UpdateDBConnectionStats updates database connection pool statistics
func UpdateDBConnectionStats(active, idle int32) {
	DBConnectionsActive.Set(float64(active))
	DBConnectionsIdle.Set(float64(idle))
}

// RecordWorkerIteration records a queue polling iteration
func RecordWorkerIteration() {
	WorkerLoopIterations.Inc()
}
