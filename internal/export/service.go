package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/cutroom/cutroom/internal/logging"
	"github.com/cutroom/cutroom/internal/metrics"
	"github.com/cutroom/cutroom/internal/tracing"
	"github.com/cutroom/cutroom/pkg/models"
)

// ErrCompositionBusy is returned when another worker is exporting the same composition
var ErrCompositionBusy = errors.New("composition is being exported by another worker")

// Store persists export jobs and serves composition snapshots
type Store interface {
	GetExport(ctx context.Context, exportID string) (*models.ExportJob, error)
	GetComposition(ctx context.Context, compositionID string) (*models.Snapshot, error)
	UpdateExport(ctx context.Context, job *models.ExportJob) error
}

// FinalizeRequest is the declarative description handed to the finalization pass
type FinalizeRequest struct {
	RawPath    string
	OutputPath string
	Settings   models.Settings
	Format     models.ExportFormat
	Cues       []Cue
}

// Finalizer rewrites a raw capture to exact timing and the target format
type Finalizer interface {
	Finalize(ctx context.Context, req FinalizeRequest) error
}

// ArtifactSink stores a finished export and returns its public URL
type ArtifactSink interface {
	PublishExport(ctx context.Context, exportID, path, container string) (string, error)
}

// Coordinator shares export state between workers. It is optional.
type Coordinator interface {
	AcquireCompositionLock(ctx context.Context, compositionID, owner string, ttl time.Duration) (bool, error)
	ReleaseCompositionLock(ctx context.Context, compositionID, owner string) error
	SetExportProgress(ctx context.Context, exportID string, progress float64, ttl time.Duration) error
}

// Notifier tells outside systems about export lifecycle events. It is optional.
type Notifier interface {
	NotifyExport(ctx context.Context, event string, job models.ExportJob)
}

// CaptureFactory creates a capture writing into dir
type CaptureFactory func(dir string) Capture

// ServiceConfig holds export service settings
type ServiceConfig struct {
	TempDir       string
	DefaultFormat models.ExportFormat
	PaceRealtime  bool
	LockTTL       time.Duration
	ProgressTTL   time.Duration
}

// Dependencies are the collaborators a Service drives
type Dependencies struct {
	Pipeline    *Pipeline
	NewCapture  CaptureFactory
	Finalizer   Finalizer
	Store       Store
	Artifacts   ArtifactSink
	Coordinator Coordinator
	Notifier    Notifier
}

// Service runs export jobs through queued -> processing -> done | failed
type Service struct {
	cfg      ServiceConfig
	deps     Dependencies
	logger   *logging.Logger
	workerID string
}

// NewService creates a new export service
func NewService(cfg ServiceConfig, deps Dependencies, logger *logging.Logger) *Service {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	if cfg.ProgressTTL <= 0 {
		cfg.ProgressTTL = time.Hour
	}
	if logger == nil {
		logger = logging.Nop()
	}
	workerID := uuid.New().String()
	return &Service{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.WithWorkerID(workerID),
		workerID: workerID,
	}
}

// WorkerID identifies this service instance in locks and logs
func (s *Service) WorkerID() string {
	return s.workerID
}

// ProcessJob renders, finalizes and publishes one export.
// Redelivered jobs that already finished are acknowledged without work.
func (s *Service) ProcessJob(ctx context.Context, exportID string) error {
	span, ctx := tracing.StartSpan(ctx, "export.process")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "export.id", exportID)

	job, err := s.deps.Store.GetExport(ctx, exportID)
	if err != nil {
		tracing.LogError(span, err)
		return fmt.Errorf("failed to get export: %w", err)
	}
	if job.IsTerminal() {
		return nil
	}
	tracing.SetTag(span, "composition.id", job.CompositionID)
	logger := s.logger.WithExportID(job.ID).WithCompositionID(job.CompositionID)

	if s.deps.Coordinator != nil {
		ok, err := s.deps.Coordinator.AcquireCompositionLock(ctx, job.CompositionID, s.workerID, s.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire composition lock: %w", err)
		}
		if !ok {
			return ErrCompositionBusy
		}
		defer func() {
			if err := s.deps.Coordinator.ReleaseCompositionLock(context.Background(), job.CompositionID, s.workerID); err != nil {
				logger.ErrorWithErr("Failed to release composition lock", err)
			}
		}()
	}

	// Update job status to processing
	now := time.Now()
	job.Status = models.ExportStatusProcessing
	job.StartedAt = &now
	job.Progress = 0
	if err := s.deps.Store.UpdateExport(ctx, job); err != nil {
		return fmt.Errorf("failed to update export status: %w", err)
	}
	metrics.RecordExportStarted()
	logger.LogExportEvent(job.ID, "started", job.Status, nil)
	s.notify(ctx, models.ExportEventStarted, job)

	snap, err := s.deps.Store.GetComposition(ctx, job.CompositionID)
	if err != nil {
		return s.failJob(ctx, job, logger, fmt.Errorf("failed to get composition: %w", err))
	}
	settings := snap.Composition.Settings
	format := job.Format.WithDefaults(s.cfg.DefaultFormat)

	tempDir := filepath.Join(s.cfg.TempDir, job.ID)
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return s.failJob(ctx, job, logger, fmt.Errorf("failed to create temp directory: %w", err))
	}
	defer os.RemoveAll(tempDir)

	sink := NewCueSink(settings.FPS)
	target := Target{
		Capture:  s.deps.NewCapture(tempDir),
		Audio:    sink,
		Progress: s.progressReporter(ctx, job, settings.DurationFrames, logger),
	}
	if s.cfg.PaceRealtime {
		target.Pacer = NewRatePacer(settings.FPS)
	}

	result, err := s.deps.Pipeline.Render(ctx, snap, target)
	if err != nil {
		return s.failJob(ctx, job, logger, fmt.Errorf("render failed: %w", err))
	}

	outputPath := filepath.Join(tempDir, "export."+format.Container)
	req := FinalizeRequest{
		RawPath:    result.RawPath,
		OutputPath: outputPath,
		Settings:   settings,
		Format:     format,
		Cues:       sink.Cues(),
	}
	if err := s.deps.Finalizer.Finalize(ctx, req); err != nil {
		return s.failJob(ctx, job, logger, fmt.Errorf("finalization failed: %w", err))
	}

	url, err := s.deps.Artifacts.PublishExport(ctx, job.ID, outputPath, format.Container)
	if err != nil {
		return s.failJob(ctx, job, logger, fmt.Errorf("failed to publish export: %w", err))
	}

	// Update job as completed
	completed := time.Now()
	job.Status = models.ExportStatusDone
	job.Progress = 1
	job.URL = url
	job.ErrorMsg = ""
	job.CompletedAt = &completed
	if err := s.deps.Store.UpdateExport(ctx, job); err != nil {
		return fmt.Errorf("failed to update export: %w", err)
	}

	metrics.RecordExportCompleted(job.Status, completed.Sub(now).Seconds())
	logger.LogExportEvent(job.ID, "completed", job.Status, map[string]interface{}{
		"frames": result.Frames,
		"cues":   len(req.Cues),
		"url":    url,
	})
	s.notify(ctx, models.ExportEventCompleted, job)
	return nil
}

func (s *Service) notify(ctx context.Context, event string, job *models.ExportJob) {
	if s.deps.Notifier != nil {
		s.deps.Notifier.NotifyExport(ctx, event, *job)
	}
}

// progressReporter persists progress at most once per percent
func (s *Service) progressReporter(ctx context.Context, job *models.ExportJob, total int, logger *logging.Logger) ProgressFunc {
	last := -1.0
	lastLogged := -1
	return func(frame int, progress float64) {
		if progress < job.Progress {
			return
		}
		job.Progress = progress
		if progress-last < 0.01 && progress < 1 {
			return
		}
		last = progress

		if err := s.deps.Store.UpdateExport(ctx, job); err != nil {
			logger.ErrorWithErr("Failed to persist export progress", err)
		}
		if s.deps.Coordinator != nil {
			if err := s.deps.Coordinator.SetExportProgress(ctx, job.ID, progress, s.cfg.ProgressTTL); err != nil {
				logger.ErrorWithErr("Failed to cache export progress", err)
			}
		}

		if decile := int(progress * 10); decile > lastLogged {
			lastLogged = decile
			logger.LogExportProgress(job.ID, frame, total, progress)
		}
	}
}

const failureWriteTimeout = 10 * time.Second

// failJob marks an export as failed, keeping the error as its message
func (s *Service) failJob(ctx context.Context, job *models.ExportJob, logger *logging.Logger, err error) error {
	completed := time.Now()
	job.Status = models.ExportStatusFailed
	job.ErrorMsg = err.Error()
	job.CompletedAt = &completed

	var elapsed float64
	if job.StartedAt != nil {
		elapsed = completed.Sub(*job.StartedAt).Seconds()
	}
	metrics.RecordExportCompleted(job.Status, elapsed)
	tracing.LogError(tracing.SpanFromContext(ctx), err)
	logger.WithError(err).LogExportEvent(job.ID, "failed", job.Status, nil)

	// the job context may already be cancelled; the failure still has to land
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	if updateErr := s.deps.Store.UpdateExport(writeCtx, job); updateErr != nil {
		return fmt.Errorf("failed to update export: %w (original error: %v)", updateErr, err)
	}
	s.notify(writeCtx, models.ExportEventFailed, job)

	return err
}
