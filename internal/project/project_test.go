package project

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cutroom/cutroom/pkg/models"
)

type placement struct {
	in, out, start int
	speed          float64
	z              int
}

func placements(clips []models.Clip) []placement {
	out := make([]placement, 0, len(clips))
	for _, c := range clips {
		out = append(out, placement{c.SourceInFrame, c.SourceOutFrame, c.TimelineStartFrame, c.Speed, c.ZIndex})
	}
	return out
}

func fixture() *models.Snapshot {
	off := false
	return &models.Snapshot{
		Composition: models.Composition{
			ID:       "comp-1",
			Name:     "Trailer",
			Settings: models.Settings{Width: 1280, Height: 720, FPS: 30, DurationFrames: 900, BackgroundColor: "#101010"},
		},
		Clips: []models.Clip{
			{ID: "a", CompositionID: "comp-1", SourceMediaID: "m1", SourceInFrame: 0, SourceOutFrame: 300, Speed: 1, Opacity: 1, ZIndex: 0},
			{ID: "b", CompositionID: "comp-1", SourceMediaID: "m2", SourceInFrame: 30, SourceOutFrame: 150, TimelineStartFrame: 60, Speed: 2, Opacity: 0.5, ZIndex: 1, Label: "B-roll", AudioEnabled: &off},
		},
		Tracks: []models.Track{
			{ID: "t1", ClipID: "b", Channel: models.ChannelTransform, Keyframes: []models.Keyframe{
				models.HoldKeyframe(models.TransformValue{X: 0.25, Y: 0.75, Scale: 0.5, Rotate: 15}),
			}},
			{ID: "t2", ClipID: "a", Channel: models.ChannelTrim, Keyframes: []models.Keyframe{
				models.HoldKeyframe(models.TrimValue{Start: 10, End: 20}),
			}},
		},
		Sources: map[string]models.SourceMeta{
			"m1": {ID: "m1", URL: "file:///media/a.mp4", Width: 1920, Height: 1080, FPS: 30, DurationFrames: 300, HasAudio: true},
			"m2": {ID: "m2", URL: "file:///media/b.mp4", Width: 1280, Height: 720, FPS: 60, DurationFrames: 600},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	snap := fixture()

	data, err := Marshal(FromSnapshot(snap))
	require.NoError(t, err)

	p, err := Read(bytes.NewReader(data))
	require.NoError(t, err)

	loaded, remap := p.Snapshot("owner-1")

	assert.Equal(t, placements(snap.Clips), placements(loaded.Clips))
	assert.Equal(t, snap.Composition.Settings, loaded.Composition.Settings)
	assert.Equal(t, "owner-1", loaded.Composition.OwnerID)
	assert.NotEqual(t, snap.Composition.ID, loaded.Composition.ID)

	require.Len(t, remap, 2)
	assert.NotEqual(t, "a", remap["a"])
	assert.NotEqual(t, "b", remap["b"])

	b, ok := loaded.Clip(remap["b"])
	require.True(t, ok)
	assert.Equal(t, "B-roll", b.Label)
	assert.Equal(t, 0.5, b.Opacity)
	require.NotNil(t, b.AudioEnabled)
	assert.False(t, *b.AudioEnabled)
	assert.Equal(t, models.TransformValue{X: 0.25, Y: 0.75, Scale: 0.5, Rotate: 15}, loaded.Transform(b.ID))

	a, ok := loaded.Clip(remap["a"])
	require.True(t, ok)
	assert.Equal(t, models.TrimValue{Start: 10, End: 20}, loaded.Trim(a))
	assert.Equal(t, 30.0, loaded.SourceFPS(a))
	assert.Equal(t, 60.0, loaded.SourceFPS(b))
}

func TestReadDefaults(t *testing.T) {
	p, err := Read(strings.NewReader(`
name: Minimal
settings: {width: 640, height: 360, fps: 25, duration_frames: 250}
clips:
  - source: m1
    source_in: 0
    source_out: 100
    start: 0
    z_index: 0
`))
	require.NoError(t, err)
	assert.Equal(t, FormatVersion, p.Version)

	snap, _ := p.Snapshot("")
	require.Len(t, snap.Clips, 1)
	assert.Equal(t, 1.0, snap.Clips[0].Speed)
	assert.Equal(t, 1.0, snap.Clips[0].Opacity)
}

func TestReadRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown field", "name: x\nsettings: {width: 64, height: 64, fps: 30, duration_frames: 10}\nclips: []\ncolour: red\n"},
		{"bad settings", "name: x\nsettings: {width: 0, height: 64, fps: 30, duration_frames: 10}\nclips: []\n"},
		{"newer version", "version: 9\nname: x\nsettings: {width: 64, height: 64, fps: 30, duration_frames: 10}\nclips: []\n"},
		{"empty source range", "name: x\nsettings: {width: 64, height: 64, fps: 30, duration_frames: 10}\nclips:\n  - {source: m1, source_in: 5, source_out: 5, start: 0, z_index: 0}\n"},
		{"unknown source", "name: x\nsettings: {width: 64, height: 64, fps: 30, duration_frames: 10}\nsources:\n  - {id: m1, url: 'file:///a.mp4'}\nclips:\n  - {source: m2, source_in: 0, source_out: 5, start: 0, z_index: 0}\n"},
		{"zero scale", "name: x\nsettings: {width: 64, height: 64, fps: 30, duration_frames: 10}\nclips:\n  - source: m1\n    source_out: 5\n    transform: [{frame: 0, x: 0.5, y: 0.5, scale: 0}]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}

	_, err := Read(strings.NewReader("version: 9\nname: x\nsettings: {width: 64, height: 64, fps: 30, duration_frames: 10}\nclips: []\n"))
	assert.True(t, errors.Is(err, ErrUnsupportedVersion))
}

type memoryStore struct {
	comps   []*models.Composition
	sources []models.SourceMeta
	clips   []models.NewClip
	tracks  []models.TrackUpsert
	failAt  int
}

func (m *memoryStore) CreateComposition(ctx context.Context, comp *models.Composition) error {
	comp.ID = fmt.Sprintf("comp-%d", len(m.comps)+1)
	m.comps = append(m.comps, comp)
	return nil
}

func (m *memoryStore) EnsureSource(ctx context.Context, src *models.SourceMeta) error {
	m.sources = append(m.sources, *src)
	return nil
}

func (m *memoryStore) AddClip(ctx context.Context, n models.NewClip) (string, error) {
	if m.failAt > 0 && len(m.clips)+1 == m.failAt {
		return "", errors.New("insert failed")
	}
	m.clips = append(m.clips, n)
	return fmt.Sprintf("clip-%d", len(m.clips)), nil
}

func (m *memoryStore) UpsertTrack(ctx context.Context, upsert models.TrackUpsert) (string, error) {
	m.tracks = append(m.tracks, upsert)
	return fmt.Sprintf("track-%d", len(m.tracks)), nil
}

func TestImport(t *testing.T) {
	store := &memoryStore{}

	comp, remap, err := Import(context.Background(), store, FromSnapshot(fixture()), "owner-1")
	require.NoError(t, err)

	assert.Equal(t, "comp-1", comp.ID)
	assert.Equal(t, "owner-1", comp.OwnerID)
	assert.Equal(t, map[string]string{"a": "clip-1", "b": "clip-2"}, remap)
	assert.Len(t, store.sources, 2)

	require.Len(t, store.clips, 2)
	assert.Equal(t, "comp-1", store.clips[1].CompositionID)
	assert.Equal(t, 60, store.clips[1].TimelineStartFrame)
	require.NotNil(t, store.clips[1].Speed)
	assert.Equal(t, 2.0, *store.clips[1].Speed)

	require.Len(t, store.tracks, 2)
	assert.Equal(t, "clip-1", store.tracks[0].ClipID)
	assert.Equal(t, models.ChannelTrim, store.tracks[0].Channel)
	assert.Equal(t, "clip-2", store.tracks[1].ClipID)
	assert.Equal(t, models.ChannelTransform, store.tracks[1].Channel)
}

func TestImportStopsOnClipFailure(t *testing.T) {
	store := &memoryStore{failAt: 2}

	_, _, err := Import(context.Background(), store, FromSnapshot(fixture()), "owner-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clip 1")
}
