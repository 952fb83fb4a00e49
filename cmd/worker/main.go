package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cutroom/cutroom/internal/cache"
	"github.com/cutroom/cutroom/internal/config"
	"github.com/cutroom/cutroom/internal/database"
	"github.com/cutroom/cutroom/internal/export"
	"github.com/cutroom/cutroom/internal/logging"
	"github.com/cutroom/cutroom/internal/metrics"
	"github.com/cutroom/cutroom/internal/queue"
	"github.com/cutroom/cutroom/internal/scheduler"
	"github.com/cutroom/cutroom/internal/storage"
	"github.com/cutroom/cutroom/internal/tracing"
	"github.com/cutroom/cutroom/internal/transcoder"
	"github.com/cutroom/cutroom/internal/webhook"
	"github.com/cutroom/cutroom/pkg/models"
)

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
		_, closer, err := tracing.InitTracer(cfg.Tracing.ServiceName+"-worker", cfg.Tracing.JaegerEndpoint)
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

	repo := database.NewRepository(db, logger)

	// Initialize cache
	c, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatalf("Failed to connect to cache: %v", err)
	}
	defer c.Close()

	// Initialize storage
	stor, err := storage.New(cfg.Storage, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	// Initialize queue
	q, err := queue.New(cfg.Queue, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	// Initialize export service
	ffmpeg := transcoder.NewFFmpeg(cfg.Export.FFmpegRuntimes, cfg.Export.FFprobePath, logger)
	pipeline := export.NewPipeline(transcoder.NewFrameSourceFactory(ffmpeg), export.Options{
		SeekTolerance:       cfg.Export.ExportSeekTolerance,
		AudioDriftTolerance: cfg.Export.AudioDriftTolerance,
		ReadyTimeout:        cfg.Export.ReadyTimeout,
		Concurrency:         cfg.Export.SeekConcurrency,
	}, logger.Zerolog())

	notifier := webhook.NewService(cfg.Webhook, logger)
	defer notifier.Wait()

	service := export.NewService(export.ServiceConfig{
		TempDir: cfg.Export.TempDir,
		DefaultFormat: models.ExportFormat{
			Container: cfg.Export.Container,
			Codec:     cfg.Export.Codec,
			Bitrate:   cfg.Export.Bitrate,
			CRF:       cfg.Export.CRF,
			Preset:    cfg.Export.Preset,
		},
		PaceRealtime: cfg.Export.PaceRealtime,
		LockTTL:      cfg.Export.LockTTL,
		ProgressTTL:  cfg.Export.ProgressTTL,
	}, export.Dependencies{
		Pipeline:    pipeline,
		NewCapture:  transcoder.CaptureFactory(ffmpeg, captureFormats(cfg.Export.CaptureFormats), logger),
		Finalizer:   transcoder.NewFinalizer(ffmpeg, logger),
		Store:       repo,
		Artifacts:   stor,
		Coordinator: c,
		Notifier:    notifier,
	}, logger)

	logger = logger.WithWorkerID(service.WorkerID())

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

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down worker gracefully...")
		cancel()
	}()

	go reportQueueDepth(ctx, q, 30*time.Second)

	if cfg.Export.SweepInterval > 0 {
		sweeper := scheduler.NewSweeper(repo, q, scheduler.Config{
			Interval:     cfg.Export.SweepInterval,
			RequeueAfter: cfg.Export.RequeueAfter,
			StaleAfter:   cfg.Export.LockTTL,
		}, logger)
		go sweeper.Run(ctx)
	}

	// Start consuming exports
	logger.Info("Worker started, waiting for exports...")
	if err := q.ConsumeExports(ctx, exportHandler(service, logger)); err != nil {
		logger.Fatalf("Failed to consume exports: %v", err)
	}

	// Wait for shutdown
	<-ctx.Done()

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsServer.Shutdown(shutdownCtx)
	}
	logger.Info("Worker stopped")
}

// ExportProcessor runs one export job
type ExportProcessor interface {
	ProcessJob(ctx context.Context, exportID string) error
}

// exportHandler runs queued exports. A composition locked by another worker is retried later.
func exportHandler(p ExportProcessor, logger *logging.Logger) queue.Handler {
	return func(ctx context.Context, msg queue.ExportMessage) error {
		log := logger.WithExportID(msg.ExportID).WithCompositionID(msg.CompositionID)
		log.Info("Processing export")

		err := p.ProcessJob(ctx, msg.ExportID)
		switch {
		case err == nil:
			log.Info("Export finished")
			return nil
		case errors.Is(err, export.ErrCompositionBusy):
			log.Warn("Composition busy, export deferred")
			return fmt.Errorf("%w: %w", queue.ErrRetryLater, err)
		default:
			log.ErrorWithErr("Export failed", err)
			return err
		}
	}
}

func captureFormats(cfg []config.CaptureFormatConfig) []transcoder.CaptureFormat {
	if len(cfg) == 0 {
		return transcoder.DefaultCaptureFormats
	}
	formats := make([]transcoder.CaptureFormat, 0, len(cfg))
	for _, f := range cfg {
		formats = append(formats, transcoder.CaptureFormat{Muxer: f.Muxer, Codec: f.Codec, Ext: f.Ext})
	}
	return formats
}

// QueueInspector reports queue depths
type QueueInspector interface {
	GetQueueDepth() (int, error)
	GetDLQDepth() (int, error)
}

func reportQueueDepth(ctx context.Context, q QueueInspector, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if depth, err := q.GetQueueDepth(); err == nil {
				metrics.SetQueueDepth(queue.ExportQueueName, depth)
			}
			if depth, err := q.GetDLQDepth(); err == nil {
				metrics.SetQueueDepth(queue.DeadLetterQueueName, depth)
			}
		}
	}
}
