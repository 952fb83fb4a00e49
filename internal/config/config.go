package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Queue    QueueConfig
	Tracing  TracingConfig
	Metrics  MetricsConfig
	Logging  LoggingConfig
	Export   ExportConfig
	Webhook  WebhookConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimit       int // requests per second per client
	RateBurst       int
	// Exports a single owner may queue per ExportQuotaWindow, 0 disables the quota
	ExportQuota       int64
	ExportQuotaWindow time.Duration
	FrameCacheTTL     time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
	PublicURL       string
	URLExpiry       time.Duration
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
}

// TracingConfig holds Jaeger configuration
type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	JaegerEndpoint string
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// WebhookConfig lists endpoints notified of export lifecycle events
type WebhookConfig struct {
	URLs    []string
	Secret  string
	Timeout time.Duration
}

// CaptureFormatConfig names one raw capture container and codec
type CaptureFormatConfig struct {
	Muxer string
	Codec string
	Ext   string
}

// ExportConfig holds rendering, capture and finalization configuration
type ExportConfig struct {
	TempDir string
	// Finalization runtimes, tried in order until one loads
	FFmpegRuntimes []string
	FFprobePath    string

	Container string
	Codec     string
	Bitrate   int64
	CRF       int
	Preset    string

	CaptureFormats  []CaptureFormatConfig
	PaceRealtime    bool
	SeekConcurrency int

	// Tolerances are in seconds
	PreviewSeekTolerance float64
	AudioDriftTolerance  float64
	ExportSeekTolerance  float64
	ReadyTimeout         time.Duration

	SnapshotCacheTTL time.Duration
	LockTTL          time.Duration
	ProgressTTL      time.Duration

	// Sweeping requeues queued exports idle for RequeueAfter and fails
	// processing exports idle for LockTTL. Zero SweepInterval disables it.
	SweepInterval time.Duration
	RequeueAfter  time.Duration
}

// Load reads configuration from file and environment variables.
// Environment variables use the CUTROOM_ prefix, e.g. CUTROOM_DATABASE_HOST.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("cutroom")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "60s")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.rateLimit", 20)
	v.SetDefault("server.rateBurst", 40)
	v.SetDefault("server.exportQuota", 30)
	v.SetDefault("server.exportQuotaWindow", "1h")
	v.SetDefault("server.frameCacheTTL", "10m")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "cutroom")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Storage defaults
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "cutroom")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)
	v.SetDefault("storage.publicURL", "")
	v.SetDefault("storage.urlExpiry", "24h")

	// Queue defaults
	v.SetDefault("queue.host", "localhost")
	v.SetDefault("queue.port", 5672)
	v.SetDefault("queue.user", "guest")
	v.SetDefault("queue.password", "guest")
	v.SetDefault("queue.vhost", "/")

	// Observability defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "cutroom")
	v.SetDefault("tracing.jaegerEndpoint", "localhost:6831")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Export defaults
	v.SetDefault("export.tempDir", "/tmp/cutroom")
	v.SetDefault("export.ffmpegRuntimes", []string{"ffmpeg", "/usr/local/bin/ffmpeg", "/usr/bin/ffmpeg"})
	v.SetDefault("export.ffprobePath", "ffprobe")
	v.SetDefault("export.container", "mp4")
	v.SetDefault("export.codec", "libx264")
	v.SetDefault("export.bitrate", 0)
	v.SetDefault("export.crf", 23)
	v.SetDefault("export.preset", "medium")
	v.SetDefault("export.paceRealtime", false)
	v.SetDefault("export.seekConcurrency", 4)
	v.SetDefault("export.previewSeekTolerance", 0.02)
	v.SetDefault("export.audioDriftTolerance", 0.1)
	v.SetDefault("export.exportSeekTolerance", 1.0/120.0)
	v.SetDefault("export.readyTimeout", "10s")
	v.SetDefault("export.snapshotCacheTTL", "5m")
	v.SetDefault("export.lockTTL", "30m")
	v.SetDefault("export.progressTTL", "1h")
	v.SetDefault("export.sweepInterval", "1m")
	v.SetDefault("export.requeueAfter", "10m")

	// Webhook defaults
	v.SetDefault("webhook.timeout", "10s")
}
