package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Ledger metrics
	LedgerMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_mutations_total",
			Help: "Total number of committed ledger credits/debits",
		},
		[]string{"kind", "outcome"},
	)

	LedgerMutationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_mutation_duration_seconds",
			Help:    "Ledger credit/debit latency in seconds, including optimistic-lock retries",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"kind"},
	)

	LedgerConcurrentModifications = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_concurrent_modifications_total",
			Help: "Total number of optimistic-lock conflicts hit by ledger mutations, including ones resolved by a retry",
		},
	)

	// Webhook / payment metrics
	WebhooksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_processed_total",
			Help: "Total number of payment webhooks processed, by outcome",
		},
		[]string{"provider", "outcome"},
	)

	// Subscription sweep metrics
	SweepRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_runs_total",
			Help: "Total number of scheduler sweep runs",
		},
		[]string{"sweep"},
	)

	SweepAffectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_affected_total",
			Help: "Total number of rows/users affected across sweep runs",
		},
		[]string{"sweep"},
	)

	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sweep_duration_seconds",
			Help:    "Duration of a single scheduler sweep run",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
		},
		[]string{"sweep"},
	)

	// Task billing metrics
	TaskCostCaptured = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "task_cost_captured",
			Help:    "Final token cost captured per completed streaming task",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 25, 50},
		},
		[]string{"outcome"},
	)

	TaskDebitFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "task_debit_failures_total",
			Help: "Total number of post-task debits that failed (task result still delivered)",
		},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	CacheOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_operation_duration_seconds",
			Help:    "Cache operation latency in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		},
		[]string{"operation", "cache_type"},
	)

	// Database metrics
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"query_type"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"query_type"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_open",
			Help: "Number of open database connections",
		},
	)

	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_in_use",
			Help: "Number of database connections in use",
		},
	)

	// Circuit breaker metrics
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"breaker", "to_state"},
	)
)

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordLedgerMutation records the outcome and latency of one credit/debit.
func RecordLedgerMutation(kind, outcome string, duration float64) {
	LedgerMutationsTotal.WithLabelValues(kind, outcome).Inc()
	LedgerMutationDuration.WithLabelValues(kind).Observe(duration)
}

// RecordWebhookProcessed records the terminal outcome of a webhook delivery.
func RecordWebhookProcessed(provider, outcome string) {
	WebhooksProcessedTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordSweep records one completed scheduler sweep run.
func RecordSweep(name string, affected int, duration float64) {
	SweepRunsTotal.WithLabelValues(name).Inc()
	SweepAffectedTotal.WithLabelValues(name).Add(float64(affected))
	SweepDuration.WithLabelValues(name).Observe(duration)
}

// RecordCacheHit records a cache hit
func RecordCacheHit(cacheType string) {
	CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss
func RecordCacheMiss(cacheType string) {
	CacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordDBQuery records database query metrics
func RecordDBQuery(queryType string, duration float64) {
	DBQueriesTotal.WithLabelValues(queryType).Inc()
	DBQueryDuration.WithLabelValues(queryType).Observe(duration)
}
