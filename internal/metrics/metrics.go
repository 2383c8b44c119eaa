// Package metrics defines custom Prometheus metrics for Galleria.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// sizeBuckets are exponential buckets for request/response size histograms (bytes).
var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864}

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "galleria_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "galleria_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPResponseSize observes response body size in bytes.
	HTTPResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "galleria_http_response_size_bytes",
			Help:    "Response body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)
)

// Asset lifecycle metrics.
var (
	// UploadsTotal counts upload payloads by result ("created", "skipped", "failed").
	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "galleria_uploads_total",
			Help: "Upload payloads by result",
		},
		[]string{"result"},
	)

	// BytesStoredTotal counts asset bytes written to the store.
	BytesStoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "galleria_bytes_stored_total",
			Help: "Total asset bytes written to the store",
		},
	)

	// DeletesTotal counts deletions by kind ("asset", "artist").
	DeletesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "galleria_deletes_total",
			Help: "Deletions by kind",
		},
		[]string{"kind"},
	)

	// FileCleanupFailuresTotal counts best-effort file deletions that failed.
	FileCleanupFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "galleria_file_cleanup_failures_total",
			Help: "Best-effort asset file deletions that failed",
		},
	)

	// ExportsTotal counts archive builds by result ("success", "error").
	ExportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "galleria_exports_total",
			Help: "Archive exports by result",
		},
		[]string{"result"},
	)
)

// Consistency scan metrics.
var (
	// ScansTotal counts scanner runs by mode ("report", "reconcile", "repair").
	ScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "galleria_scans_total",
			Help: "Consistency scans by mode",
		},
		[]string{"mode"},
	)

	// ScanDuration observes scan duration in seconds.
	ScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "galleria_scan_duration_seconds",
			Help:    "Consistency scan duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// OrphanedFiles is the orphan count of the most recent scan.
	OrphanedFiles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "galleria_orphaned_files",
			Help: "Files without a registry record at the last scan",
		},
	)

	// MissingFiles is the missing-file count of the most recent scan.
	MissingFiles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "galleria_missing_files",
			Help: "Registry records without a file at the last scan",
		},
	)
)

// Register registers all Prometheus collectors with the default registry.
// This must be called explicitly (typically from main) so that metrics
// registration can be made conditional on configuration. It is safe to call
// multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPResponseSize,
			UploadsTotal,
			BytesStoredTotal,
			DeletesTotal,
			FileCleanupFailuresTotal,
			ExportsTotal,
			ScansTotal,
			ScanDuration,
			OrphanedFiles,
			MissingFiles,
		)
		// Initialize vectors so they appear in /metrics output before use.
		UploadsTotal.WithLabelValues("created")
		ScansTotal.WithLabelValues("report")
	})
}

// NormalizePath maps actual request paths to normalized path templates
// suitable for use as Prometheus metric labels. Numeric segments become
// {id} so that per-artist and per-image paths share one label.
func NormalizePath(path string) string {
	switch path {
	case "/", "":
		return "/"
	case "/docs", "/docs/":
		return "/docs"
	}
	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}

	segs := strings.Split(strings.Trim(path, "/"), "/")
	for i, s := range segs {
		if isDigits(s) {
			segs[i] = "{id}"
		}
	}
	return "/" + strings.Join(segs, "/")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
