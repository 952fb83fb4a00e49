package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: "127.0.0.1"

database:
  host: "testdb"
  port: 5432
  user: "testuser"
  password: "testpass"
  dbname: "testdb"

export:
  ffmpegRuntimes:
    - /opt/ffmpeg/bin/ffmpeg
    - ffmpeg
  captureFormats:
    - muxer: nut
      codec: ffv1
      ext: nut
  lockTTL: 5m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Expected host 127.0.0.1, got %s", cfg.Server.Host)
	}

	if cfg.Database.Host != "testdb" {
		t.Errorf("Expected database host testdb, got %s", cfg.Database.Host)
	}

	assert.Equal(t, []string{"/opt/ffmpeg/bin/ffmpeg", "ffmpeg"}, cfg.Export.FFmpegRuntimes)
	assert.Equal(t, []CaptureFormatConfig{{Muxer: "nut", Codec: "ffv1", Ext: "nut"}}, cfg.Export.CaptureFormats)
	assert.Equal(t, 5*time.Minute, cfg.Export.LockTTL)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 8081\n"))
	require.NoError(t, err)

	assert.Equal(t, "cutroom", cfg.Database.DBName)
	assert.Equal(t, 24*time.Hour, cfg.Storage.URLExpiry)
	assert.Equal(t, "mp4", cfg.Export.Container)
	assert.Equal(t, "libx264", cfg.Export.Codec)
	assert.Equal(t, 23, cfg.Export.CRF)
	assert.InDelta(t, 0.02, cfg.Export.PreviewSeekTolerance, 1e-9)
	assert.InDelta(t, 0.1, cfg.Export.AudioDriftTolerance, 1e-9)
	assert.InDelta(t, 1.0/120.0, cfg.Export.ExportSeekTolerance, 1e-9)
	assert.Equal(t, []string{"ffmpeg", "/usr/local/bin/ffmpeg", "/usr/bin/ffmpeg"}, cfg.Export.FFmpegRuntimes)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, time.Minute, cfg.Export.SweepInterval)
	assert.Equal(t, 10*time.Minute, cfg.Export.RequeueAfter)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CUTROOM_DATABASE_HOST", "db.internal")
	t.Setenv("CUTROOM_EXPORT_CRF", "18")

	cfg, err := Load(writeConfig(t, "database:\n  host: file-host\n"))
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 18, cfg.Export.CRF)
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error when loading nonexistent file")
	}
}
