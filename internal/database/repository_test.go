package database

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cutroom/cutroom/internal/logging"
	"github.com/cutroom/cutroom/pkg/models"
)

func TestBuildClipUpdate(t *testing.T) {
	tests := []struct {
		name      string
		patch     models.ClipPatch
		wantQuery string
		wantArgs  []interface{}
	}{
		{
			name:      "move",
			patch:     models.ClipPatch{TimelineStartFrame: models.IntPtr(120), ZIndex: models.IntPtr(3)},
			wantQuery: "UPDATE clips SET timeline_start_frame = $2, z_index = $3, updated_at = NOW() WHERE id = $1",
			wantArgs:  []interface{}{"clip-1", 120, 3},
		},
		{
			name:      "split head",
			patch:     models.ClipPatch{SourceOutFrame: models.IntPtr(60)},
			wantQuery: "UPDATE clips SET source_out_frame = $2, updated_at = NOW() WHERE id = $1",
			wantArgs:  []interface{}{"clip-1", 60},
		},
		{
			name: "every field",
			patch: models.ClipPatch{
				SourceInFrame:      models.IntPtr(1),
				SourceOutFrame:     models.IntPtr(2),
				TimelineStartFrame: models.IntPtr(3),
				Speed:              models.FloatPtr(1.5),
				Opacity:            models.FloatPtr(0.5),
				ZIndex:             models.IntPtr(4),
				Label:              models.StringPtr("intro"),
				AudioEnabled:       models.BoolPtr(false),
			},
			wantQuery: "UPDATE clips SET source_in_frame = $2, source_out_frame = $3, timeline_start_frame = $4, " +
				"speed = $5, opacity = $6, z_index = $7, label = $8, audio_enabled = $9, updated_at = NOW() WHERE id = $1",
			wantArgs: []interface{}{"clip-1", 1, 2, 3, 1.5, 0.5, 4, "intro", false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildClipUpdate("clip-1", tt.patch)
			assert.Equal(t, tt.wantQuery, query)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

// openTestRepository connects to CUTROOM_TEST_DATABASE_URL, or skips
func openTestRepository(t *testing.T) *Repository {
	t.Helper()

	dsn := os.Getenv("CUTROOM_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("Skipping integration test - CUTROOM_TEST_DATABASE_URL not set")
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	db := &DB{Pool: pool}
	require.NoError(t, db.Migrate(context.Background()))
	return NewRepository(db, logging.Nop())
}

func TestRepository_EditAndSnapshot(t *testing.T) {
	repo := openTestRepository(t)
	ctx := context.Background()

	comp := &models.Composition{Name: "integration", Settings: models.DefaultSettings()}
	require.NoError(t, repo.CreateComposition(ctx, comp))
	t.Cleanup(func() { repo.DeleteComposition(context.Background(), comp.ID) })

	src := &models.SourceMeta{URL: "file:///media/a.mp4", Width: 1280, Height: 720, FPS: 30, DurationFrames: 300, HasAudio: true}
	require.NoError(t, repo.CreateSource(ctx, src))

	clipID, err := repo.AddClip(ctx, models.NewClip{
		CompositionID:  comp.ID,
		SourceMediaID:  src.ID,
		SourceOutFrame: 300,
	})
	require.NoError(t, err)

	_, err = repo.UpdateClip(ctx, clipID, models.ClipPatch{TimelineStartFrame: models.IntPtr(30)})
	require.NoError(t, err)

	_, err = repo.UpdateClip(ctx, clipID, models.ClipPatch{SourceOutFrame: models.IntPtr(0)})
	assert.Error(t, err)

	trackID, err := repo.UpsertTrack(ctx, models.TrimUpsert(comp.ID, "", clipID, models.TrimValue{Start: 10}))
	require.NoError(t, err)
	_, err = repo.UpsertTrack(ctx, models.TrimUpsert(comp.ID, trackID, clipID, models.TrimValue{Start: 20}))
	require.NoError(t, err)

	// Without a track id the clip's existing trim track is replaced, not duplicated
	for _, start := range []int{25, 20} {
		again, err := repo.UpsertTrack(ctx, models.TrimUpsert(comp.ID, "", clipID, models.TrimValue{Start: start}))
		require.NoError(t, err)
		assert.Equal(t, trackID, again)
	}

	snap, err := repo.GetComposition(ctx, comp.ID)
	require.NoError(t, err)
	require.Len(t, snap.Clips, 1)
	assert.Equal(t, 30, snap.Clips[0].TimelineStartFrame)
	assert.Equal(t, 20, snap.Trim(snap.Clips[0]).Start)
	assert.Len(t, snap.Tracks, 1)
	assert.Equal(t, src.URL, snap.Sources[src.ID].URL)
	assert.Greater(t, snap.Composition.Version, comp.Version)

	require.NoError(t, repo.RemoveClip(ctx, clipID))
	err = repo.RemoveClip(ctx, clipID)
	assert.True(t, errors.Is(err, ErrNotFound))

	snap, err = repo.GetComposition(ctx, comp.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.Clips)
	assert.Empty(t, snap.Tracks)
}

func TestRepository_ExportLifecycle(t *testing.T) {
	repo := openTestRepository(t)
	ctx := context.Background()

	comp := &models.Composition{Name: "export", Settings: models.DefaultSettings()}
	require.NoError(t, repo.CreateComposition(ctx, comp))
	t.Cleanup(func() { repo.DeleteComposition(context.Background(), comp.ID) })

	job, err := repo.QueueExport(ctx, comp.ID, models.ExportFormat{Container: "mp4"})
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusQueued, job.Status)

	job.Status = models.ExportStatusDone
	job.Progress = 1
	job.URL = "https://cdn.example.com/exports/x.mp4"
	require.NoError(t, repo.UpdateExport(ctx, job))

	got, err := repo.GetExport(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusDone, got.Status)
	assert.Equal(t, "mp4", got.Format.Container)

	_, err = repo.QueueExport(ctx, "00000000-0000-0000-0000-000000000000", models.ExportFormat{})
	assert.ErrorIs(t, err, ErrNotFound)
}
