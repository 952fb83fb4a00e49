package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cutroom/cutroom/pkg/models"
)

const clipColumns = `id, composition_id, source_media_id, source_in_frame, source_out_frame,
	timeline_start_frame, speed, opacity, z_index, label, audio_enabled, created_at, updated_at`

// AddClip inserts a clip and returns its id
func (r *Repository) AddClip(ctx context.Context, n models.NewClip) (id string, err error) {
	start := time.Now()
	defer func() { r.observe("add_clip", start, err) }()

	clip := n.Clip()
	if err := clip.Validate(); err != nil {
		return "", fmt.Errorf("%w: clip: %w", ErrInvalid, err)
	}
	clip.ID = uuid.New().String()

	err = pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		query := `
			INSERT INTO clips (id, composition_id, source_media_id, source_in_frame, source_out_frame,
				timeline_start_frame, speed, opacity, z_index, label, audio_enabled)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`
		_, err := tx.Exec(ctx, query,
			clip.ID, clip.CompositionID, clip.SourceMediaID, clip.SourceInFrame, clip.SourceOutFrame,
			clip.TimelineStartFrame, clip.Speed, clip.Opacity, clip.ZIndex, clip.Label, clip.AudioEnabled,
		)
		if err != nil {
			return fmt.Errorf("failed to add clip: %w", err)
		}
		return bumpVersion(ctx, tx, clip.CompositionID)
	})
	if err != nil {
		return "", err
	}

	return clip.ID, nil
}

// GetClip retrieves a clip by ID
func (r *Repository) GetClip(ctx context.Context, id string) (*models.Clip, error) {
	query := `SELECT ` + clipColumns + ` FROM clips WHERE id = $1`

	clip, err := scanClip(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("clip %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get clip: %w", err)
	}
	return clip, nil
}

// UpdateClip applies a partial update. The patched clip is validated against the
// current row inside the same transaction.
func (r *Repository) UpdateClip(ctx context.Context, clipID string, patch models.ClipPatch) (id string, err error) {
	start := time.Now()
	defer func() { r.observe("update_clip", start, err) }()

	if patch.IsEmpty() {
		return clipID, nil
	}

	err = pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		current, err := scanClip(tx.QueryRow(ctx, `SELECT `+clipColumns+` FROM clips WHERE id = $1 FOR UPDATE`, clipID))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("clip %s: %w", clipID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load clip: %w", err)
		}
		if err := patch.Validate(*current); err != nil {
			return fmt.Errorf("%w: clip update: %w", ErrInvalid, err)
		}

		query, args := buildClipUpdate(clipID, patch)
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to update clip: %w", err)
		}
		return bumpVersion(ctx, tx, current.CompositionID)
	})
	if err != nil {
		return "", err
	}

	return clipID, nil
}

// buildClipUpdate renders the UPDATE for the fields set in patch. $1 is the clip id.
func buildClipUpdate(clipID string, patch models.ClipPatch) (string, []interface{}) {
	args := []interface{}{clipID}
	var sets []string

	set := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.SourceInFrame != nil {
		set("source_in_frame", *patch.SourceInFrame)
	}
	if patch.SourceOutFrame != nil {
		set("source_out_frame", *patch.SourceOutFrame)
	}
	if patch.TimelineStartFrame != nil {
		set("timeline_start_frame", *patch.TimelineStartFrame)
	}
	if patch.Speed != nil {
		set("speed", *patch.Speed)
	}
	if patch.Opacity != nil {
		set("opacity", *patch.Opacity)
	}
	if patch.ZIndex != nil {
		set("z_index", *patch.ZIndex)
	}
	if patch.Label != nil {
		set("label", *patch.Label)
	}
	if patch.AudioEnabled != nil {
		set("audio_enabled", *patch.AudioEnabled)
	}
	sets = append(sets, "updated_at = NOW()")

	return "UPDATE clips SET " + strings.Join(sets, ", ") + " WHERE id = $1", args
}

// RemoveClip deletes a clip; its tracks go with it
func (r *Repository) RemoveClip(ctx context.Context, clipID string) (err error) {
	start := time.Now()
	defer func() { r.observe("remove_clip", start, err) }()

	return pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		var compositionID string
		err := tx.QueryRow(ctx, `DELETE FROM clips WHERE id = $1 RETURNING composition_id`, clipID).Scan(&compositionID)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("clip %s: %w", clipID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to remove clip: %w", err)
		}
		return bumpVersion(ctx, tx, compositionID)
	})
}

func (r *Repository) listClips(ctx context.Context, compositionID string) ([]models.Clip, error) {
	query := `SELECT ` + clipColumns + ` FROM clips WHERE composition_id = $1 ORDER BY created_at, id`

	rows, err := r.db.Pool.Query(ctx, query, compositionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list clips: %w", err)
	}
	defer rows.Close()

	var clips []models.Clip
	for rows.Next() {
		clip, err := scanClip(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan clip: %w", err)
		}
		clips = append(clips, *clip)
	}

	return clips, rows.Err()
}

func scanClip(row pgx.Row) (*models.Clip, error) {
	var c models.Clip
	err := row.Scan(
		&c.ID, &c.CompositionID, &c.SourceMediaID, &c.SourceInFrame, &c.SourceOutFrame,
		&c.TimelineStartFrame, &c.Speed, &c.Opacity, &c.ZIndex, &c.Label, &c.AudioEnabled,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Tracks

// UpsertTrack creates a track, or replaces the keyframes of an existing one.
// A clip holds at most one track per channel, so an upsert without a track id
// replaces the clip's existing track for that channel.
func (r *Repository) UpsertTrack(ctx context.Context, upsert models.TrackUpsert) (id string, err error) {
	start := time.Now()
	defer func() { r.observe("upsert_track", start, err) }()

	if err := upsert.Validate(); err != nil {
		return "", fmt.Errorf("%w: track: %w", ErrInvalid, err)
	}
	keyframes, err := json.Marshal(upsert.Keyframes)
	if err != nil {
		return "", fmt.Errorf("failed to encode keyframes: %w", err)
	}

	id = upsert.TrackID
	err = pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		if id != "" {
			tag, err := tx.Exec(ctx, `
				UPDATE tracks SET keyframes = $2, updated_at = NOW()
				WHERE id = $1 AND composition_id = $3 AND channel = $4
			`, id, keyframes, upsert.CompositionID, string(upsert.Channel))
			if err != nil {
				return fmt.Errorf("failed to update track: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("track %s: %w", id, ErrNotFound)
			}
			return bumpVersion(ctx, tx, upsert.CompositionID)
		}

		var clipID *string
		if upsert.ClipID != "" {
			clipID = &upsert.ClipID
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO tracks (id, composition_id, clip_id, channel, keyframes)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (clip_id, channel) WHERE clip_id IS NOT NULL
			DO UPDATE SET keyframes = EXCLUDED.keyframes, updated_at = NOW()
			RETURNING id
		`, uuid.New().String(), upsert.CompositionID, clipID, string(upsert.Channel), keyframes).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to create track: %w", err)
		}
		return bumpVersion(ctx, tx, upsert.CompositionID)
	})
	if err != nil {
		return "", err
	}

	return id, nil
}

func (r *Repository) listTracks(ctx context.Context, compositionID string) ([]models.Track, error) {
	query := `
		SELECT id, composition_id, COALESCE(clip_id::text, ''), channel, keyframes, updated_at
		FROM tracks
		WHERE composition_id = $1
		ORDER BY updated_at, id
	`

	rows, err := r.db.Pool.Query(ctx, query, compositionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}
	defer rows.Close()

	var tracks []models.Track
	for rows.Next() {
		var t models.Track
		var channel string
		var keyframes []byte
		if err := rows.Scan(&t.ID, &t.CompositionID, &t.ClipID, &channel, &keyframes, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		if t.Channel, err = models.ParseChannel(channel); err != nil {
			return nil, fmt.Errorf("track %s: %w", t.ID, err)
		}
		if t.Keyframes, err = models.DecodeKeyframes(t.Channel, keyframes); err != nil {
			return nil, fmt.Errorf("track %s: %w", t.ID, err)
		}
		tracks = append(tracks, t)
	}

	return tracks, rows.Err()
}
