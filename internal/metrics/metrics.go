package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutroom_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cutroom_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Editing Metrics
	EditCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutroom_edit_commands_total",
			Help: "Total number of editing commands by operation and outcome",
		},
		[]string{"op", "applied"},
	)

	EditPersistFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutroom_edit_persist_failures_total",
			Help: "Total number of optimistic edits the store rejected",
		},
		[]string{"op"},
	)

	// Playback Metrics
	PreviewSeeksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutroom_preview_seeks_total",
			Help: "Active clip synchronizations, split by whether a seek was issued",
		},
		[]string{"issued"},
	)

	FrameRenderDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cutroom_frame_render_duration_seconds",
			Help:    "Time to seek, composite and capture one frame",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	// Export Metrics
	ExportsStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cutroom_exports_started_total",
			Help: "Total number of export jobs picked up",
		},
	)

	ExportsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutroom_exports_completed_total",
			Help: "Total number of export jobs that reached a terminal state",
		},
		[]string{"status"},
	)

	ExportsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cutroom_exports_in_progress",
			Help: "Number of exports currently rendering",
		},
	)

	ExportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cutroom_export_duration_seconds",
			Help:    "Export processing duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		},
		[]string{"status"},
	)

	FinalizeLoadFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutroom_finalize_load_failures_total",
			Help: "Encoder runtimes that failed to load during finalization",
		},
		[]string{"location"},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutroom_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cutroom_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation"},
	)

	StorageBytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutroom_storage_bytes_transferred_total",
			Help: "Total bytes transferred to/from storage",
		},
		[]string{"operation"},
	)

	// Database Metrics
	DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutroom_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cutroom_database_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutroom_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutroom_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Queue Metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cutroom_queue_depth",
			Help: "Messages waiting in each queue",
		},
		[]string{"queue"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutroom_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordEditCommand records a split, duplicate, delete, drag or trim
func RecordEditCommand(op string, applied bool) {
	EditCommandsTotal.WithLabelValues(op, strconv.FormatBool(applied)).Inc()
}

// RecordEditPersistFailure records a store write that failed after an optimistic update
func RecordEditPersistFailure(op string) {
	EditPersistFailuresTotal.WithLabelValues(op).Inc()
}

// RecordPreviewSeek records whether synchronizing one active clip needed a seek
func RecordPreviewSeek(issued bool) {
	PreviewSeeksTotal.WithLabelValues(strconv.FormatBool(issued)).Inc()
}

// RecordFrameRendered records the time spent producing one export frame
func RecordFrameRendered(seconds float64) {
	FrameRenderDuration.Observe(seconds)
}

// RecordExportStarted records an export entering processing
func RecordExportStarted() {
	ExportsStartedTotal.Inc()
	ExportsInProgress.Inc()
}

// RecordExportCompleted records an export reaching done or failed
func RecordExportCompleted(status string, duration float64) {
	ExportsInProgress.Dec()
	ExportsCompletedTotal.WithLabelValues(status).Inc()
	ExportDuration.WithLabelValues(status).Observe(duration)
}

// RecordFinalizeLoadFailure records an encoder runtime location that could not be loaded
func RecordFinalizeLoadFailure(location string) {
	FinalizeLoadFailuresTotal.WithLabelValues(location).Inc()
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string, duration float64, bytesTransferred int64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(duration)
	StorageBytesTransferred.WithLabelValues(operation).Add(float64(bytesTransferred))
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation, status string, duration float64) {
	DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
	DatabaseOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordCacheAccess records cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// SetQueueDepth records the number of messages waiting in a queue
func SetQueueDepth(queue string, depth int) {
	QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
