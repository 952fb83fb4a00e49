package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cutroom/cutroom/pkg/models"
)

const sourceColumns = `id, url, width, height, fps, duration_frames, has_audio, created_at`

// CreateSource registers probed media
func (r *Repository) CreateSource(ctx context.Context, src *models.SourceMeta) error {
	if src.ID == "" {
		src.ID = uuid.New().String()
	}

	query := `
		INSERT INTO sources (id, url, width, height, fps, duration_frames, has_audio)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		src.ID, src.URL, src.Width, src.Height, src.FPS, src.DurationFrames, src.HasAudio,
	).Scan(&src.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}

	return nil
}

// EnsureSource registers a source under its existing id unless it is already present
func (r *Repository) EnsureSource(ctx context.Context, src *models.SourceMeta) error {
	if src.ID == "" {
		return r.CreateSource(ctx, src)
	}

	query := `
		INSERT INTO sources (id, url, width, height, fps, duration_frames, has_audio)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.db.Pool.Exec(ctx, query,
		src.ID, src.URL, src.Width, src.Height, src.FPS, src.DurationFrames, src.HasAudio,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure source: %w", err)
	}

	return nil
}

// GetSource retrieves a source by ID
func (r *Repository) GetSource(ctx context.Context, id string) (*models.SourceMeta, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE id = $1`

	src, err := scanSource(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return src, nil
}

// ListSources retrieves sources with pagination
func (r *Repository) ListSources(ctx context.Context, limit, offset int) ([]*models.SourceMeta, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []*models.SourceMeta
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, src)
	}

	return sources, rows.Err()
}

func (r *Repository) listCompositionSources(ctx context.Context, compositionID string) ([]models.SourceMeta, error) {
	query := `
		SELECT ` + sourceColumns + `
		FROM sources
		WHERE id IN (SELECT source_media_id FROM clips WHERE composition_id = $1)
	`

	rows, err := r.db.Pool.Query(ctx, query, compositionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list composition sources: %w", err)
	}
	defer rows.Close()

	var sources []models.SourceMeta
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, *src)
	}

	return sources, rows.Err()
}

func scanSource(row pgx.Row) (*models.SourceMeta, error) {
	var src models.SourceMeta
	err := row.Scan(&src.ID, &src.URL, &src.Width, &src.Height, &src.FPS, &src.DurationFrames, &src.HasAudio, &src.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &src, nil
}
