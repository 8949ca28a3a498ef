// Package metrics provides Prometheus metrics for the gramfs daemon.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Blob store traffic
	blobBytesUploaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gramfs_blob_bytes_uploaded_total",
			Help: "Total bytes uploaded to the blob store",
		},
		[]string{"backend"},
	)

	blobBytesDownloaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gramfs_blob_bytes_downloaded_total",
			Help: "Total bytes downloaded from the blob store",
		},
		[]string{"backend"},
	)

	blobOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gramfs_blob_operation_duration_seconds",
			Help:    "Blob store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	blobOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gramfs_blob_operations_total",
			Help: "Total blob store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// Blob cache
	cacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gramfs_blob_cache_hits_total",
			Help: "Blob cache hits",
		},
	)

	cacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gramfs_blob_cache_misses_total",
			Help: "Blob cache misses",
		},
	)

	// Write staging and flush
	stagedRegions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gramfs_staged_regions",
			Help: "Number of staging regions holding unflushed writes",
		},
	)

	stagedBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gramfs_staged_bytes",
			Help: "Total unflushed bytes across all staging regions",
		},
	)

	flushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gramfs_flush_duration_seconds",
			Help:    "Duration of one staging region flush",
			Buckets: prometheus.DefBuckets,
		},
	)

	flushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gramfs_flushes_total",
			Help: "Total staging region flushes",
		},
		[]string{"status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordBlobUpload records one blob upload attempt.
func RecordBlobUpload(backend string, bytes int64, duration time.Duration, err error) {
	blobOpDuration.WithLabelValues(backend, "upload").Observe(duration.Seconds())
	blobOpsTotal.WithLabelValues(backend, "upload", statusOf(err)).Inc()
	if err == nil {
		blobBytesUploaded.WithLabelValues(backend).Add(float64(bytes))
	}
}

// RecordBlobDownload records one blob download attempt.
func RecordBlobDownload(backend string, bytes int64, duration time.Duration, err error) {
	blobOpDuration.WithLabelValues(backend, "download").Observe(duration.Seconds())
	blobOpsTotal.WithLabelValues(backend, "download", statusOf(err)).Inc()
	if err == nil {
		blobBytesDownloaded.WithLabelValues(backend).Add(float64(bytes))
	}
}

// RecordCacheHit records a blob cache hit or miss.
func RecordCacheHit(hit bool) {
	if hit {
		cacheHitsTotal.Inc()
	} else {
		cacheMissesTotal.Inc()
	}
}

// SetStaged publishes the current staging backlog.
func SetStaged(regions int, bytes int64) {
	stagedRegions.Set(float64(regions))
	stagedBytes.Set(float64(bytes))
}

// RecordFlush records the outcome of one region flush.
func RecordFlush(duration time.Duration, err error) {
	flushDuration.Observe(duration.Seconds())
	flushesTotal.WithLabelValues(statusOf(err)).Inc()
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
