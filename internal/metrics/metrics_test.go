package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHTTPRequest(t *testing.T) {
	// Reset metrics
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	RecordHTTPRequest("GET", "/api/v1/compositions/:id/lanes", "200", 0.123)

	counter := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/compositions/:id/lanes", "200"))
	if counter != 1.0 {
		t.Errorf("Expected counter to be 1.0, got %f", counter)
	}
}

func TestRecordEditCommand(t *testing.T) {
	EditCommandsTotal.Reset()

	RecordEditCommand("split", true)
	RecordEditCommand("split", false)
	RecordEditCommand("split", true)
	RecordEditCommand("delete", true)

	applied := testutil.ToFloat64(EditCommandsTotal.WithLabelValues("split", "true"))
	if applied != 2.0 {
		t.Errorf("Expected applied splits to be 2.0, got %f", applied)
	}

	rejected := testutil.ToFloat64(EditCommandsTotal.WithLabelValues("split", "false"))
	if rejected != 1.0 {
		t.Errorf("Expected rejected splits to be 1.0, got %f", rejected)
	}
}

func TestRecordPreviewSeek(t *testing.T) {
	PreviewSeeksTotal.Reset()

	RecordPreviewSeek(true)
	RecordPreviewSeek(false)
	RecordPreviewSeek(false)

	skipped := testutil.ToFloat64(PreviewSeeksTotal.WithLabelValues("false"))
	if skipped != 2.0 {
		t.Errorf("Expected skipped seeks to be 2.0, got %f", skipped)
	}
}

func TestExportLifecycle(t *testing.T) {
	ExportsCompletedTotal.Reset()
	ExportsInProgress.Set(0)

	RecordExportStarted()
	RecordExportStarted()
	if got := testutil.ToFloat64(ExportsInProgress); got != 2.0 {
		t.Errorf("Expected exports in progress to be 2.0, got %f", got)
	}

	RecordExportCompleted("done", 12.5)
	RecordExportCompleted("failed", 3.1)

	if got := testutil.ToFloat64(ExportsInProgress); got != 0 {
		t.Errorf("Expected exports in progress to be 0, got %f", got)
	}
	if got := testutil.ToFloat64(ExportsCompletedTotal.WithLabelValues("done")); got != 1.0 {
		t.Errorf("Expected done counter to be 1.0, got %f", got)
	}
	if got := testutil.ToFloat64(ExportsCompletedTotal.WithLabelValues("failed")); got != 1.0 {
		t.Errorf("Expected failed counter to be 1.0, got %f", got)
	}
}

func TestRecordFinalizeLoadFailure(t *testing.T) {
	FinalizeLoadFailuresTotal.Reset()

	RecordFinalizeLoadFailure("/usr/local/bin/ffmpeg")
	RecordFinalizeLoadFailure("/usr/local/bin/ffmpeg")

	if got := testutil.ToFloat64(FinalizeLoadFailuresTotal.WithLabelValues("/usr/local/bin/ffmpeg")); got != 2.0 {
		t.Errorf("Expected load failures to be 2.0, got %f", got)
	}
}

func TestRecordStorageOperation(t *testing.T) {
	StorageOperationsTotal.Reset()
	StorageBytesTransferred.Reset()

	RecordStorageOperation("upload", "success", 1.234, 1048576)

	counter := testutil.ToFloat64(StorageOperationsTotal.WithLabelValues("upload", "success"))
	if counter != 1.0 {
		t.Errorf("Expected storage operation counter to be 1.0, got %f", counter)
	}

	bytes := testutil.ToFloat64(StorageBytesTransferred.WithLabelValues("upload"))
	if bytes != 1048576.0 {
		t.Errorf("Expected bytes transferred to be 1048576.0, got %f", bytes)
	}
}

func TestRecordDatabaseOperation(t *testing.T) {
	DatabaseOperationsTotal.Reset()

	RecordDatabaseOperation("select", "success", 0.05)
	RecordDatabaseOperation("insert", "error", 0.02)

	success := testutil.ToFloat64(DatabaseOperationsTotal.WithLabelValues("select", "success"))
	if success != 1.0 {
		t.Errorf("Expected select success counter to be 1.0, got %f", success)
	}

	failed := testutil.ToFloat64(DatabaseOperationsTotal.WithLabelValues("insert", "error"))
	if failed != 1.0 {
		t.Errorf("Expected insert error counter to be 1.0, got %f", failed)
	}
}

func TestRecordCacheAccess(t *testing.T) {
	CacheHitsTotal.Reset()
	CacheMissesTotal.Reset()

	RecordCacheAccess("snapshot", true)
	RecordCacheAccess("snapshot", true)
	RecordCacheAccess("snapshot", false)

	hits := testutil.ToFloat64(CacheHitsTotal.WithLabelValues("snapshot"))
	if hits != 2.0 {
		t.Errorf("Expected cache hits to be 2.0, got %f", hits)
	}

	misses := testutil.ToFloat64(CacheMissesTotal.WithLabelValues("snapshot"))
	if misses != 1.0 {
		t.Errorf("Expected cache misses to be 1.0, got %f", misses)
	}
}

func TestRecordError(t *testing.T) {
	ErrorsTotal.Reset()

	RecordError("api", "validation")
	RecordError("worker", "ffmpeg")
	RecordError("api", "validation")

	apiErrors := testutil.ToFloat64(ErrorsTotal.WithLabelValues("api", "validation"))
	if apiErrors != 2.0 {
		t.Errorf("Expected API validation errors to be 2.0, got %f", apiErrors)
	}
}

func TestSetQueueDepth(t *testing.T) {
	SetQueueDepth("export_jobs", 7)
	SetQueueDepth("export_jobs", 3)

	if depth := testutil.ToFloat64(QueueDepth.WithLabelValues("export_jobs")); depth != 3.0 {
		t.Errorf("Expected queue depth 3.0, got %f", depth)
	}
}

func TestServerHandlers(t *testing.T) {
	s := NewServer(0)

	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected health to return 200, got %d", rec.Code)
	}

	RecordExportStarted()
	rec = httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected metrics to return 200, got %d", rec.Code)
	}
}

func BenchmarkRecordHTTPRequest(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RecordHTTPRequest("GET", "/api/v1/compositions/:id", "200", 0.123)
	}
}

func BenchmarkRecordPreviewSeek(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RecordPreviewSeek(i%2 == 0)
	}
}
