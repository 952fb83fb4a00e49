package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "JSON format to stdout",
			config: Config{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
			wantErr: false,
		},
		{
			name: "Console format to stderr",
			config: Config{
				Level:  "debug",
				Format: "console",
				Output: "stderr",
			},
			wantErr: false,
		},
		{
			name: "Invalid log level defaults to info",
			config: Config{
				Level:  "invalid",
				Format: "json",
				Output: "stdout",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && logger == nil {
				t.Error("Expected non-nil logger")
			}
		})
	}
}

func TestLoggerMethods(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info")

	logger.Debug("test debug message")
	if buf.Len() != 0 {
		t.Errorf("Expected debug to be filtered at info level, got %q", buf.String())
	}

	logger.Info("test info message")
	logger.Warn("test warn message")
	logger.Error("test error message")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 3 {
		t.Fatalf("Expected 3 log lines, got %d", len(lines))
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(lines[0], &entry); err != nil {
		t.Fatalf("Expected JSON output: %v", err)
	}
	if entry["message"] != "test info message" || entry["level"] != "info" {
		t.Errorf("Unexpected entry: %v", entry)
	}
}

func TestLoggerWithFields(t *testing.T) {
	logger, err := NewLogger(Config{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	// Test WithField
	fieldLogger := logger.WithField("key", "value")
	if fieldLogger == nil {
		t.Error("Expected non-nil logger from WithField")
	}

	// Test WithFields
	fieldsLogger := logger.WithFields(map[string]interface{}{
		"key1": "value1",
		"key2": 123,
	})
	if fieldsLogger == nil {
		t.Error("Expected non-nil logger from WithFields")
	}

	// Test WithRequestID
	reqLogger := logger.WithRequestID("req-123")
	if reqLogger == nil {
		t.Error("Expected non-nil logger from WithRequestID")
	}

	// Test WithCompositionID
	compLogger := logger.WithCompositionID("comp-456")
	if compLogger == nil {
		t.Error("Expected non-nil logger from WithCompositionID")
	}

	// Test WithClipID
	clipLogger := logger.WithClipID("clip-789")
	if clipLogger == nil {
		t.Error("Expected non-nil logger from WithClipID")
	}

	// Test WithWorkerID
	workerLogger := logger.WithWorkerID("worker-1")
	if workerLogger == nil {
		t.Error("Expected non-nil logger from WithWorkerID")
	}
}

func TestLogHTTPRequest(t *testing.T) {
	logger, err := NewLogger(Config{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	logger.LogHTTPRequest("GET", "/api/v1/compositions", "192.168.1.1", 200, 100*time.Millisecond)
	// Should not panic
}

func TestLogExportEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info").WithCompositionID("comp-1")

	logger.LogExportEvent("export-123", "started", "processing", map[string]interface{}{
		"frames": 900,
	})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON output: %v", err)
	}
	if entry["export_id"] != "export-123" {
		t.Errorf("Expected export_id field, got %v", entry["export_id"])
	}
	if entry["composition_id"] != "comp-1" {
		t.Errorf("Expected composition_id field, got %v", entry["composition_id"])
	}
	if entry["frames"] != float64(900) {
		t.Errorf("Expected frames field, got %v", entry["frames"])
	}
}

func TestLogExportProgress(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info").LogExportProgress("export-123", 450, 900, 0.5)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON output: %v", err)
	}
	if entry["progress"] != 0.5 {
		t.Errorf("Expected progress 0.5, got %v", entry["progress"])
	}
}

func TestLogFinalizeAttempt(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info")

	logger.LogFinalizeAttempt("/opt/ffmpeg/bin/ffmpeg", 1, errors.New("not found"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON output: %v", err)
	}
	if entry["level"] != "warn" {
		t.Errorf("Expected a failed attempt to log at warn, got %v", entry["level"])
	}
}

func TestNopDiscards(t *testing.T) {
	logger := Nop()
	logger.Error("dropped")
	if logger.Zerolog().GetLevel() != zerolog.Disabled {
		t.Error("Expected nop logger to be disabled")
	}
}

func TestLogStorageOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info")

	logger.LogStorageOperation("upload", "exports", "export.mp4", 1048576, 2*time.Second, nil)

	for _, want := range []string{`"key":"export.mp4"`, `"size_bytes":1048576`} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("Expected %s in %s", want, buf.String())
		}
	}
}

func TestLogDatabaseOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info")

	logger.LogDatabaseOperation("get_composition", 50*time.Millisecond, nil)
	if buf.Len() != 0 {
		t.Errorf("Expected successful operation to log at debug level, got %s", buf.String())
	}

	logger.LogDatabaseOperation("update_clip", 50*time.Millisecond, errors.New("connection reset"))
	for _, want := range []string{`"operation":"update_clip"`, `"level":"error"`} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("Expected %s in %s", want, buf.String())
		}
	}
}

func BenchmarkLogInfo(b *testing.B) {
	logger, _ := NewLogger(Config{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info("benchmark message")
	}
}

func BenchmarkLogWithFields(b *testing.B) {
	logger, _ := NewLogger(Config{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.WithFields(map[string]interface{}{
			"key1": "value1",
			"key2": 123,
		}).Info("benchmark message")
	}
}
