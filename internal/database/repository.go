package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cutroom/cutroom/internal/logging"
	"github.com/cutroom/cutroom/internal/metrics"
	"github.com/cutroom/cutroom/pkg/models"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalid wraps validation failures of the values being written
	ErrInvalid = errors.New("invalid input")
)

// Repository provides database operations
type Repository struct {
	db     *DB
	logger *logging.Logger
}

// NewRepository creates a new repository. A nil logger discards operation logs.
func NewRepository(db *DB, logger *logging.Logger) *Repository {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Repository{db: db, logger: logger}
}

// observe records the duration and outcome of one repository call.
// Missing rows are an expected outcome, not a failure.
func (r *Repository) observe(operation string, start time.Time, err error) {
	duration := time.Since(start)
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordDatabaseOperation(operation, status, duration.Seconds())
	r.logger.LogDatabaseOperation(operation, duration, err)
}

// Health checks the database connection
func (r *Repository) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}

// Compositions

// CreateComposition creates a new composition record
func (r *Repository) CreateComposition(ctx context.Context, comp *models.Composition) (err error) {
	start := time.Now()
	defer func() { r.observe("create_composition", start, err) }()

	if comp.ID == "" {
		comp.ID = uuid.New().String()
	}
	if err = comp.Settings.Validate(); err != nil {
		return fmt.Errorf("%w: settings: %w", ErrInvalid, err)
	}
	settings, err := json.Marshal(comp.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	query := `
		INSERT INTO compositions (id, owner_id, name, settings)
		VALUES ($1, $2, $3, $4)
		RETURNING version, created_at, updated_at
	`

	err = r.db.Pool.QueryRow(ctx, query, comp.ID, comp.OwnerID, comp.Name, settings).
		Scan(&comp.Version, &comp.CreatedAt, &comp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create composition: %w", err)
	}

	return nil
}

// GetCompositionRecord retrieves a composition without its clips
func (r *Repository) GetCompositionRecord(ctx context.Context, id string) (*models.Composition, error) {
	query := `
		SELECT id, owner_id, name, settings, version, created_at, updated_at
		FROM compositions
		WHERE id = $1
	`
	comp, err := scanComposition(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("composition %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get composition: %w", err)
	}
	return comp, nil
}

// CompositionVersion returns the composition's edit counter
func (r *Repository) CompositionVersion(ctx context.Context, id string) (int, error) {
	var version int
	err := r.db.Pool.QueryRow(ctx, `SELECT version FROM compositions WHERE id = $1`, id).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("composition %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get composition version: %w", err)
	}
	return version, nil
}

// ListCompositions retrieves compositions with pagination
func (r *Repository) ListCompositions(ctx context.Context, limit, offset int) ([]*models.Composition, error) {
	query := `
		SELECT id, owner_id, name, settings, version, created_at, updated_at
		FROM compositions
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list compositions: %w", err)
	}
	defer rows.Close()

	var comps []*models.Composition
	for rows.Next() {
		comp, err := scanComposition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan composition: %w", err)
		}
		comps = append(comps, comp)
	}

	return comps, rows.Err()
}

// UpdateSettings replaces a composition's settings
func (r *Repository) UpdateSettings(ctx context.Context, id string, settings models.Settings) (err error) {
	start := time.Now()
	defer func() { r.observe("update_settings", start, err) }()

	if err = settings.Validate(); err != nil {
		return fmt.Errorf("%w: settings: %w", ErrInvalid, err)
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	query := `
		UPDATE compositions
		SET settings = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query, id, data)
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("composition %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteComposition deletes a composition with its clips, tracks and exports
func (r *Repository) DeleteComposition(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM compositions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete composition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("composition %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetComposition loads the snapshot of a composition: its clips in creation order,
// tracks, exports and the sources its clips reference
func (r *Repository) GetComposition(ctx context.Context, id string) (snap *models.Snapshot, err error) {
	start := time.Now()
	defer func() { r.observe("get_snapshot", start, err) }()

	comp, err := r.GetCompositionRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	snap = &models.Snapshot{
		Composition: *comp,
		Sources:     make(map[string]models.SourceMeta),
	}

	if snap.Clips, err = r.listClips(ctx, id); err != nil {
		return nil, err
	}
	if snap.Tracks, err = r.listTracks(ctx, id); err != nil {
		return nil, err
	}
	if snap.Exports, err = r.ListExports(ctx, id); err != nil {
		return nil, err
	}

	sources, err := r.listCompositionSources(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, src := range sources {
		snap.Sources[src.ID] = src
	}

	return snap, nil
}

// bumpVersion marks the composition as edited
func bumpVersion(ctx context.Context, tx pgx.Tx, compositionID string) error {
	_, err := tx.Exec(ctx, `UPDATE compositions SET version = version + 1, updated_at = NOW() WHERE id = $1`, compositionID)
	if err != nil {
		return fmt.Errorf("failed to bump composition version: %w", err)
	}
	return nil
}

func scanComposition(row pgx.Row) (*models.Composition, error) {
	var comp models.Composition
	var settings []byte
	err := row.Scan(&comp.ID, &comp.OwnerID, &comp.Name, &settings, &comp.Version, &comp.CreatedAt, &comp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(settings, &comp.Settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return &comp, nil
}
