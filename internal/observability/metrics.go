// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Scan metrics
	ScanRunsTotal     *prometheus.CounterVec
	ScanDuration      prometheus.Histogram
	LastScanCompleted prometheus.Gauge

	// Page metrics
	PagesProcessed *prometheus.CounterVec
	PageRetries    prometheus.Counter

	// Token metrics
	TokensEvaluated prometheus.Counter
	TokensSkipped   prometheus.Counter
	SurgesDetected  prometheus.Counter
	TokensUpserted  prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "surge_scanner"
	}

	return &Metrics{
		ScanRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "scan_runs_total",
			Help:      "Total number of scan cycles by outcome",
		}, []string{"status"}),
		ScanDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "scan_duration_seconds",
			Help:      "Duration of completed scan cycles",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		LastScanCompleted: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "last_scan_completed_timestamp",
			Help:      "Unix timestamp of the last completed scan",
		}),
		PagesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "pages_processed_total",
			Help:      "Total number of page jobs by outcome",
		}, []string{"status"}),
		PageRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "page_retries_total",
			Help:      "Total number of page job retry attempts",
		}),
		TokensEvaluated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "tokens_evaluated_total",
			Help:      "Total number of tokens run through surge detection",
		}),
		TokensSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "tokens_skipped_total",
			Help:      "Total number of tokens skipped due to per-token errors",
		}),
		SurgesDetected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "surges_detected_total",
			Help:      "Total number of surge hits detected",
		}),
		TokensUpserted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "tokens_upserted_total",
			Help:      "Total number of token rows upserted",
		}),
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the package-level metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordScanRun records a completed scheduler cycle.
func RecordScanRun(status string, seconds float64) {
	DefaultMetrics.ScanRunsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		DefaultMetrics.ScanDuration.Observe(seconds)
	}
}

// SetLastScanCompleted records the completion timestamp of the last scan.
func SetLastScanCompleted(unix float64) {
	DefaultMetrics.LastScanCompleted.Set(unix)
}

// RecordPageProcessed records one finished page job.
func RecordPageProcessed(status string) {
	DefaultMetrics.PagesProcessed.WithLabelValues(status).Inc()
}

// RecordPageRetry records one page job retry attempt.
func RecordPageRetry() {
	DefaultMetrics.PageRetries.Inc()
}

// RecordTokenEvaluated records one token run through the detector.
func RecordTokenEvaluated() {
	DefaultMetrics.TokensEvaluated.Inc()
}

// RecordTokenSkipped records one token skipped on a per-token error.
func RecordTokenSkipped() {
	DefaultMetrics.TokensSkipped.Inc()
}

// RecordSurgeDetected records one detected surge.
func RecordSurgeDetected() {
	DefaultMetrics.SurgesDetected.Inc()
}

// RecordTokensUpserted records persisted token rows.
func RecordTokensUpserted(n int) {
	DefaultMetrics.TokensUpserted.Add(float64(n))
}
