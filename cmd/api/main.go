package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cutroom/cutroom/internal/cache"
	"github.com/cutroom/cutroom/internal/config"
	"github.com/cutroom/cutroom/internal/database"
	"github.com/cutroom/cutroom/internal/export"
	"github.com/cutroom/cutroom/internal/logging"
	"github.com/cutroom/cutroom/internal/metrics"
	"github.com/cutroom/cutroom/internal/middleware"
	"github.com/cutroom/cutroom/internal/queue"
	"github.com/cutroom/cutroom/internal/storage"
	"github.com/cutroom/cutroom/internal/tracing"
	"github.com/cutroom/cutroom/internal/transcoder"
	"github.com/cutroom/cutroom/pkg/models"
)

// Repository is the persistence the API reads and edits through
type Repository interface {
	Health(ctx context.Context) error

	CreateComposition(ctx context.Context, comp *models.Composition) error
	GetCompositionRecord(ctx context.Context, id string) (*models.Composition, error)
	CompositionVersion(ctx context.Context, id string) (int, error)
	ListCompositions(ctx context.Context, limit, offset int) ([]*models.Composition, error)
	UpdateSettings(ctx context.Context, id string, settings models.Settings) error
	DeleteComposition(ctx context.Context, id string) error
	GetComposition(ctx context.Context, id string) (*models.Snapshot, error)

	AddClip(ctx context.Context, n models.NewClip) (string, error)
	GetClip(ctx context.Context, id string) (*models.Clip, error)
	UpdateClip(ctx context.Context, clipID string, patch models.ClipPatch) (string, error)
	RemoveClip(ctx context.Context, clipID string) error
	UpsertTrack(ctx context.Context, upsert models.TrackUpsert) (string, error)

	QueueExport(ctx context.Context, compositionID string, format models.ExportFormat) (*models.ExportJob, error)
	GetExport(ctx context.Context, id string) (*models.ExportJob, error)
	UpdateExport(ctx context.Context, job *models.ExportJob) error
	ListExports(ctx context.Context, compositionID string) ([]models.ExportJob, error)

	CreateSource(ctx context.Context, src *models.SourceMeta) error
	EnsureSource(ctx context.Context, src *models.SourceMeta) error
	GetSource(ctx context.Context, id string) (*models.SourceMeta, error)
	ListSources(ctx context.Context, limit, offset int) ([]*models.SourceMeta, error)
}

// Cache holds snapshots, rendered frames and export progress. It is optional.
type Cache interface {
	GetSnapshot(ctx context.Context, compositionID string, version int) (*models.Snapshot, error)
	SetSnapshot(ctx context.Context, snap *models.Snapshot, ttl time.Duration) error
	GetFrame(ctx context.Context, compositionID string, version, frame int) ([]byte, error)
	SetFrame(ctx context.Context, compositionID string, version, frame int, png []byte, ttl time.Duration) error
	GetExportProgress(ctx context.Context, exportID string) (float64, bool, error)
	DeleteSnapshots(ctx context.Context, compositionID string) error
}

// Publisher hands queued exports to the workers
type Publisher interface {
	PublishExport(ctx context.Context, job *models.ExportJob) error
}

// Prober reads media metadata for source registration
type Prober interface {
	ProbeSource(ctx context.Context, url string) (*models.SourceMeta, error)
}

// FrameRenderer composites a single preview frame
type FrameRenderer interface {
	RenderFrame(ctx context.Context, snap *models.Snapshot, frame int) (*image.RGBA, error)
}

// ArtifactStore removes published export files. It is optional.
type ArtifactStore interface {
	DeleteExports(ctx context.Context, jobs []models.ExportJob) error
}

// Options holds API tuning
type Options struct {
	DefaultFormat    models.ExportFormat
	SnapshotCacheTTL time.Duration
	FrameCacheTTL    time.Duration
}

type API struct {
	repo      Repository
	cache     Cache
	queue     Publisher
	prober    Prober
	renderer  FrameRenderer
	artifacts ArtifactStore
	opts      Options
	logger    *logging.Logger
}

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if cfg.Tracing.Enabled {
		_, closer, err := tracing.InitTracer(cfg.Tracing.ServiceName+"-api", cfg.Tracing.JaegerEndpoint)
		if err != nil {
			logger.Fatalf("Failed to initialize tracing: %v", err)
		}
		defer closer.Close()
	}

	// Initialize database
	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	repo := database.NewRepository(db, logger)

	// Initialize cache
	c, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatalf("Failed to connect to cache: %v", err)
	}
	defer c.Close()

	// Initialize queue
	q, err := queue.New(cfg.Queue, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	// Initialize storage
	stor, err := storage.New(cfg.Storage, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	// Initialize FFmpeg
	ffmpeg := transcoder.NewFFmpeg(cfg.Export.FFmpegRuntimes, cfg.Export.FFprobePath, logger)
	renderer := export.NewPipeline(transcoder.NewFrameSourceFactory(ffmpeg), export.Options{
		SeekTolerance:       cfg.Export.ExportSeekTolerance,
		AudioDriftTolerance: cfg.Export.AudioDriftTolerance,
		ReadyTimeout:        cfg.Export.ReadyTimeout,
		Concurrency:         cfg.Export.SeekConcurrency,
	}, logger.Zerolog())

	// Create API instance
	api := &API{
		repo:      repo,
		cache:     c,
		queue:     q,
		prober:    ffmpeg,
		renderer:  renderer,
		artifacts: stor,
		opts: Options{
			DefaultFormat: models.ExportFormat{
				Container: cfg.Export.Container,
				Codec:     cfg.Export.Codec,
				Bitrate:   cfg.Export.Bitrate,
				CRF:       cfg.Export.CRF,
				Preset:    cfg.Export.Preset,
			},
			SnapshotCacheTTL: cfg.Export.SnapshotCacheTTL,
			FrameCacheTTL:    cfg.Server.FrameCacheTTL,
		},
		logger: logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	go limiter.Cleanup(ctx, 10*time.Minute)

	exportQuota := middleware.QuotaLimit(c, "exports", cfg.Server.ExportQuota, cfg.Server.ExportQuotaWindow)

	gin.SetMode(gin.ReleaseMode)
	router := setupRouter(api, logger, middleware.RateLimit(limiter), exportQuota)

	// Start metrics server
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.ErrorWithErr("Metrics server failed", err)
			}
		}()
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr("Server forced to shutdown", err)
	}
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}

	logger.Info("Server stopped")
}

func setupRouter(api *API, logger *logging.Logger, limit gin.HandlerFunc, exportQuota gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Owner(), middleware.Logger(logger))

	// Health check
	router.GET("/health", api.healthCheck)

	// API routes
	v1 := router.Group("/api/v1")
	if limit != nil {
		v1.Use(limit)
	}
	if exportQuota == nil {
		exportQuota = func(c *gin.Context) { c.Next() }
	}
	{
		// Compositions
		v1.POST("/compositions", api.createComposition)
		v1.GET("/compositions", api.listCompositions)
		v1.GET("/compositions/:id", api.getComposition)
		v1.PUT("/compositions/:id/settings", api.updateSettings)
		v1.DELETE("/compositions/:id", api.deleteComposition)

		// Clips and tracks
		v1.POST("/compositions/:id/clips", api.addClip)
		v1.GET("/clips/:id", api.getClip)
		v1.PATCH("/clips/:id", api.updateClip)
		v1.DELETE("/clips/:id", api.removeClip)
		v1.PUT("/compositions/:id/tracks", api.upsertTrack)

		// Timeline
		v1.GET("/compositions/:id/lanes", api.getLanes)
		v1.POST("/compositions/:id/commands", api.runCommand)
		v1.POST("/compositions/:id/gestures", api.runGesture)
		v1.GET("/compositions/:id/frames/:frame", api.getFrame)

		// Exports
		v1.POST("/compositions/:id/exports", exportQuota, api.createExport)
		v1.GET("/compositions/:id/exports", api.listExports)
		v1.GET("/exports/:id", api.getExport)

		// Sources
		v1.POST("/sources", api.registerSource)
		v1.GET("/sources", api.listSources)
		v1.GET("/sources/:id", api.getSource)

		// Project files
		v1.GET("/compositions/:id/project", api.exportProject)
		v1.POST("/projects", api.importProject)
	}

	return router
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	// Check database health
	if err := api.repo.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}
