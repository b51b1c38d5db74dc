// Package telemetry provides application-level observability for keypanel.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<KP_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint returns data in the Prometheus text
// exposition format and is intended to be scraped every 15–60 seconds. It is
// NOT served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Rotation run counters, durations, and skip counters
//   - Key transfer success/failure counters
//   - Account retirement counters (hard delete vs soft deactivate)
//   - Transfer queue depth gauge
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/keys/:id)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as key or account ids.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}. The
// path label holds the Gin route template, NOT the raw URL.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and
// exponential-ish buckets from 5 ms to 30 s.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Rotation scheduler metrics — recorded once per tick.
//
// RotationRunsTotal is a CounterVec with label {result} ∈ {completed, skipped,
// disabled, error}. A growing "skipped" series means ticks are overrunning the
// configured interval.
//
// Example PromQL queries:
//   - Runs per hour:        increase(rotation_runs_total{result="completed"}[1h])
//   - Overrun alert:        increase(rotation_runs_total{result="skipped"}[1h]) > 0
//
// RotationRunDuration is a Histogram observing the wall time of a full tick
// (scan + queue run + lifecycle sweep).
//
// Example PromQL queries:
//   - p95 run duration:  histogram_quantile(0.95, rate(rotation_run_duration_seconds_bucket[6h]))
var (
	RotationRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rotation_runs_total",
			Help: "Total number of rotation scheduler ticks, by result.",
		},
		[]string{"result"},
	)

	RotationRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rotation_run_duration_seconds",
			Help:    "Duration of a complete rotation run.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Transfer metrics — recorded by the queue processor per job.
//
// KeyTransfersTotal counts keys successfully relocated to a new account.
// KeyTransferFailuresTotal is a CounterVec with label {reason} ∈
// {no_destination, executor, panic}. A key whose transfer fails stays on its
// source account and is retried on the next tick, so a persistently growing
// failure counter means capacity is exhausted.
//
// Example PromQL queries:
//   - Failure ratio:  rate(key_transfer_failures_total[6h]) / rate(key_transfers_total[6h])
var (
	KeyTransfersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "key_transfers_total",
			Help: "Total number of keys successfully transferred to a new account.",
		},
	)

	KeyTransferFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "key_transfer_failures_total",
			Help: "Total number of transfer jobs that failed, by reason.",
		},
		[]string{"reason"},
	)

	// TransferQueueDepth is set to the job count at the start of each queue
	// run and to zero when the run finishes.
	TransferQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transfer_queue_depth",
			Help: "Number of transfer jobs in the currently executing rotation run.",
		},
	)
)

// AccountsRetiredTotal is a CounterVec with label {mode} ∈ {deleted,
// deactivated} incremented by the account lifecycle manager. "deleted" means
// the account had no audit history and was hard-deleted; "deactivated" means
// history referenced it and it was soft-deactivated instead.
//
// Example PromQL queries:
//   - Retirements per day:  increase(accounts_retired_total[24h])
var AccountsRetiredTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "accounts_retired_total",
		Help: "Total number of drained or expired accounts retired, by mode.",
	},
	[]string{"mode"},
)

// DBOpenConnections is a Gauge that tracks the number of open connections
// currently held by the sql.DB pool. It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of
// sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics every 30 seconds and updates the
// DBOpenConnections gauge. The goroutine exits cleanly when the database
// becomes unreachable (db.Ping fails), which happens automatically when the
// application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
