package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cutroom/cutroom/pkg/models"
)

const exportColumns = `id, job_id, composition_id, status, progress, error_msg, url, format,
	started_at, completed_at, created_at, updated_at`

// QueueExport records a new export request in the queued state
func (r *Repository) QueueExport(ctx context.Context, compositionID string, format models.ExportFormat) (job *models.ExportJob, err error) {
	start := time.Now()
	defer func() { r.observe("queue_export", start, err) }()

	data, err := json.Marshal(format)
	if err != nil {
		return nil, fmt.Errorf("failed to encode export format: %w", err)
	}

	job = &models.ExportJob{
		ID:            uuid.New().String(),
		JobID:         uuid.New().String(),
		CompositionID: compositionID,
		Status:        models.ExportStatusQueued,
		Format:        format,
	}

	query := `
		INSERT INTO exports (id, job_id, composition_id, status, format)
		SELECT $1, $2, id, $4, $5 FROM compositions WHERE id = $3
		RETURNING created_at, updated_at
	`
	err = r.db.Pool.QueryRow(ctx, query, job.ID, job.JobID, compositionID, job.Status, data).
		Scan(&job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("composition %s: %w", compositionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to queue export: %w", err)
	}

	return job, nil
}

// GetExport retrieves an export by ID
func (r *Repository) GetExport(ctx context.Context, id string) (*models.ExportJob, error) {
	query := `SELECT ` + exportColumns + ` FROM exports WHERE id = $1`

	job, err := scanExport(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("export %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get export: %w", err)
	}
	return job, nil
}

// UpdateExport persists an export's status, progress and outcome
func (r *Repository) UpdateExport(ctx context.Context, job *models.ExportJob) (err error) {
	start := time.Now()
	defer func() { r.observe("update_export", start, err) }()

	query := `
		UPDATE exports
		SET status = $2, progress = $3, error_msg = $4, url = $5,
		    started_at = $6, completed_at = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err = r.db.Pool.QueryRow(ctx, query,
		job.ID, job.Status, job.Progress, job.ErrorMsg, job.URL, job.StartedAt, job.CompletedAt,
	).Scan(&job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("export %s: %w", job.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update export: %w", err)
	}

	return nil
}

// ListExports retrieves a composition's exports, newest first
func (r *Repository) ListExports(ctx context.Context, compositionID string) ([]models.ExportJob, error) {
	query := `SELECT ` + exportColumns + ` FROM exports WHERE composition_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Pool.Query(ctx, query, compositionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list exports: %w", err)
	}
	defer rows.Close()

	var jobs []models.ExportJob
	for rows.Next() {
		job, err := scanExport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan export: %w", err)
		}
		jobs = append(jobs, *job)
	}

	return jobs, rows.Err()
}

// ListStaleExports returns exports in status that have not been updated since before, oldest first
func (r *Repository) ListStaleExports(ctx context.Context, status string, before time.Time, limit int) (jobs []models.ExportJob, err error) {
	start := time.Now()
	defer func() { r.observe("list_stale_exports", start, err) }()

	query := `SELECT ` + exportColumns + ` FROM exports
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`

	rows, err := r.db.Pool.Query(ctx, query, status, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale exports: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		job, err := scanExport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan export: %w", err)
		}
		jobs = append(jobs, *job)
	}

	return jobs, rows.Err()
}

func scanExport(row pgx.Row) (*models.ExportJob, error) {
	var job models.ExportJob
	var format []byte
	err := row.Scan(
		&job.ID, &job.JobID, &job.CompositionID, &job.Status, &job.Progress, &job.ErrorMsg, &job.URL,
		&format, &job.StartedAt, &job.CompletedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(format) > 0 {
		if err := json.Unmarshal(format, &job.Format); err != nil {
			return nil, fmt.Errorf("failed to decode export format: %w", err)
		}
	}
	return &job, nil
}
