// Package scheduler periodically repairs exports that the queue lost track of.
//
// A queued export whose message was dropped is published again. A processing
// export that has not reported progress for longer than the composition lock TTL
// belonged to a worker that died; it is marked failed.
package scheduler

import (
	"context"
	"time"

	"github.com/cutroom/cutroom/internal/logging"
	"github.com/cutroom/cutroom/internal/metrics"
	"github.com/cutroom/cutroom/pkg/models"
)

// Repository defines the export persistence the sweeper needs
type Repository interface {
	ListStaleExports(ctx context.Context, status string, before time.Time, limit int) ([]models.ExportJob, error)
	UpdateExport(ctx context.Context, job *models.ExportJob) error
}

// Publisher hands exports back to the workers
type Publisher interface {
	PublishExport(ctx context.Context, job *models.ExportJob) error
}

// Config holds sweep timing
type Config struct {
	Interval     time.Duration
	RequeueAfter time.Duration
	StaleAfter   time.Duration
	BatchSize    int
}

// Sweeper requeues orphaned exports and fails abandoned ones
type Sweeper struct {
	repo      Repository
	publisher Publisher
	cfg       Config
	logger    *logging.Logger
	now       func() time.Time
}

// NewSweeper creates a new export sweeper
func NewSweeper(repo Repository, publisher Publisher, cfg Config, logger *logging.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.RequeueAfter <= 0 {
		cfg.RequeueAfter = 10 * time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Sweeper{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Run sweeps every Interval until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("Export sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Export sweeper stopped")
			return
		case <-ticker.C:
			requeued, failed := s.Sweep(ctx)
			if requeued > 0 || failed > 0 {
				s.logger.WithFields(map[string]interface{}{
					"requeued": requeued,
					"failed":   failed,
				}).Info("Swept exports")
			}
		}
	}
}

// Sweep runs one pass and reports how many exports it requeued and failed
func (s *Sweeper) Sweep(ctx context.Context) (requeued, failed int) {
	now := s.now()

	queued, err := s.repo.ListStaleExports(ctx, models.ExportStatusQueued, now.Add(-s.cfg.RequeueAfter), s.cfg.BatchSize)
	if err != nil {
		s.logger.ErrorWithErr("Failed to list queued exports", err)
	}
	for i := range queued {
		job := &queued[i]
		if err := s.publisher.PublishExport(ctx, job); err != nil {
			s.logger.WithExportID(job.ID).ErrorWithErr("Failed to requeue export", err)
			continue
		}
		// Touch updated_at so the next pass waits RequeueAfter again
		if err := s.repo.UpdateExport(ctx, job); err != nil {
			s.logger.WithExportID(job.ID).ErrorWithErr("Failed to touch requeued export", err)
		}
		requeued++
	}

	processing, err := s.repo.ListStaleExports(ctx, models.ExportStatusProcessing, now.Add(-s.cfg.StaleAfter), s.cfg.BatchSize)
	if err != nil {
		s.logger.ErrorWithErr("Failed to list processing exports", err)
	}
	for i := range processing {
		job := &processing[i]
		completed := now
		job.Status = models.ExportStatusFailed
		job.ErrorMsg = "export worker stopped responding"
		job.CompletedAt = &completed
		if err := s.repo.UpdateExport(ctx, job); err != nil {
			s.logger.WithExportID(job.ID).ErrorWithErr("Failed to fail abandoned export", err)
			continue
		}

		var elapsed float64
		if job.StartedAt != nil {
			elapsed = now.Sub(*job.StartedAt).Seconds()
		}
		metrics.RecordExportCompleted(job.Status, elapsed)
		s.logger.LogExportEvent(job.ID, "abandoned", job.Status, nil)
		failed++
	}

	return requeued, failed
}
