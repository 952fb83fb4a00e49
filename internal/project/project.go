// Package project reads and writes compositions as YAML project files.
//
// A project file carries settings, the sources clips reference, and every clip with its
// transform and trim keyframes. Clip and track ids are not preserved across an import;
// sources keep their ids because they name media shared between compositions.
package project

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/cutroom/cutroom/pkg/models"
)

// FormatVersion is the project file format written by this package
const FormatVersion = 1

// ErrUnsupportedVersion is returned for project files from a newer format
var ErrUnsupportedVersion = errors.New("unsupported project version")

// Project is the on-disk form of a composition
type Project struct {
	Version  int             `yaml:"version"`
	Name     string          `yaml:"name"`
	Settings models.Settings `yaml:"settings"`
	Sources  []Source        `yaml:"sources,omitempty"`
	Clips    []Clip          `yaml:"clips"`
}

// Source is a media reference
type Source struct {
	ID             string  `yaml:"id"`
	URL            string  `yaml:"url"`
	Width          int     `yaml:"width,omitempty"`
	Height         int     `yaml:"height,omitempty"`
	FPS            float64 `yaml:"fps,omitempty"`
	DurationFrames int     `yaml:"duration_frames,omitempty"`
	HasAudio       bool    `yaml:"has_audio,omitempty"`
}

// Clip is a placed source range with its keyframe channels
type Clip struct {
	ID             string              `yaml:"id"`
	Source         string              `yaml:"source"`
	SourceIn       int                 `yaml:"source_in"`
	SourceOut      int                 `yaml:"source_out"`
	Start          int                 `yaml:"start"`
	Speed          float64             `yaml:"speed"`
	Opacity        *float64            `yaml:"opacity,omitempty"`
	ZIndex         int                 `yaml:"z_index"`
	Label          string              `yaml:"label,omitempty"`
	Audio          *bool               `yaml:"audio,omitempty"`
	Transform      []TransformKeyframe `yaml:"transform,omitempty"`
	Trim           []TrimKeyframe      `yaml:"trim,omitempty"`
}

// TransformKeyframe is one transform channel keyframe
type TransformKeyframe struct {
	Frame                 int                  `yaml:"frame"`
	Interpolation         models.Interpolation `yaml:"interpolation,omitempty"`
	models.TransformValue `yaml:",inline"`
}

// TrimKeyframe is one trim channel keyframe
type TrimKeyframe struct {
	Frame            int                  `yaml:"frame"`
	Interpolation    models.Interpolation `yaml:"interpolation,omitempty"`
	models.TrimValue `yaml:",inline"`
}

// FromSnapshot converts a composition snapshot into a project, keeping snapshot clip order
func FromSnapshot(snap *models.Snapshot) *Project {
	p := &Project{
		Version:  FormatVersion,
		Name:     snap.Composition.Name,
		Settings: snap.Composition.Settings,
	}

	seen := make(map[string]bool)
	for _, c := range snap.Clips {
		if meta, ok := snap.Source(c); ok && !seen[meta.ID] {
			seen[meta.ID] = true
			p.Sources = append(p.Sources, Source{
				ID:             meta.ID,
				URL:            meta.URL,
				Width:          meta.Width,
				Height:         meta.Height,
				FPS:            meta.FPS,
				DurationFrames: meta.DurationFrames,
				HasAudio:       meta.HasAudio,
			})
		}

		opacity := c.Opacity
		clip := Clip{
			ID:        c.ID,
			Source:    c.SourceMediaID,
			SourceIn:  c.SourceInFrame,
			SourceOut: c.SourceOutFrame,
			Start:     c.TimelineStartFrame,
			Speed:     c.Speed,
			Opacity:   &opacity,
			ZIndex:    c.ZIndex,
			Label:     c.Label,
			Audio:     c.AudioEnabled,
		}
		if t, ok := snap.TrackFor(c.ID, models.ChannelTransform); ok {
			for _, kf := range t.Keyframes {
				if v, ok := kf.Value.(models.TransformValue); ok {
					clip.Transform = append(clip.Transform, TransformKeyframe{Frame: kf.Frame, Interpolation: kf.Interpolation, TransformValue: v})
				}
			}
		}
		if t, ok := snap.TrackFor(c.ID, models.ChannelTrim); ok {
			for _, kf := range t.Keyframes {
				if v, ok := kf.Value.(models.TrimValue); ok {
					clip.Trim = append(clip.Trim, TrimKeyframe{Frame: kf.Frame, Interpolation: kf.Interpolation, TrimValue: v})
				}
			}
		}
		p.Clips = append(p.Clips, clip)
	}

	return p
}

// Write encodes p as YAML
func Write(w io.Writer, p *Project) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("failed to encode project: %w", err)
	}
	return enc.Close()
}

// Marshal encodes p as YAML bytes
func Marshal(p *Project) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Read decodes and validates a project file. Unknown fields are rejected.
func Read(r io.Reader) (*Project, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var p Project
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode project: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks settings, clip ranges, keyframes and source references
func (p *Project) Validate() error {
	if p.Version == 0 {
		p.Version = FormatVersion
	}
	if p.Version > FormatVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, p.Version)
	}
	if err := p.Settings.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	sources := make(map[string]bool, len(p.Sources))
	for _, s := range p.Sources {
		if s.ID == "" || s.URL == "" {
			return fmt.Errorf("source %q: id and url are required", s.ID)
		}
		sources[s.ID] = true
	}

	for i, c := range p.Clips {
		clip := c.model("project")
		if err := clip.Validate(); err != nil {
			return fmt.Errorf("clip %d: %w", i, err)
		}
		if len(p.Sources) > 0 && !sources[c.Source] {
			return fmt.Errorf("clip %d: unknown source %q", i, c.Source)
		}
		for _, tr := range c.tracks("project", "") {
			if err := models.ValidateKeyframes(tr.Channel, tr.Keyframes); err != nil {
				return fmt.Errorf("clip %d %s: %w", i, tr.Channel, err)
			}
		}
	}
	return nil
}

func (c Clip) model(compositionID string) models.Clip {
	speed, opacity := c.Speed, 1.0
	if speed == 0 {
		speed = 1
	}
	if c.Opacity != nil {
		opacity = *c.Opacity
	}
	return models.Clip{
		ID:                 c.ID,
		CompositionID:      compositionID,
		SourceMediaID:      c.Source,
		SourceInFrame:      c.SourceIn,
		SourceOutFrame:     c.SourceOut,
		TimelineStartFrame: c.Start,
		Speed:              speed,
		Opacity:            opacity,
		ZIndex:             c.ZIndex,
		Label:              c.Label,
		AudioEnabled:       c.Audio,
	}
}

func (c Clip) tracks(compositionID, clipID string) []models.TrackUpsert {
	var out []models.TrackUpsert
	if len(c.Transform) > 0 {
		kfs := make([]models.Keyframe, 0, len(c.Transform))
		for _, kf := range c.Transform {
			kfs = append(kfs, models.Keyframe{Frame: kf.Frame, Value: kf.TransformValue, Interpolation: interpolation(kf.Interpolation)})
		}
		out = append(out, models.TrackUpsert{CompositionID: compositionID, ClipID: clipID, Channel: models.ChannelTransform, Keyframes: kfs})
	}
	if len(c.Trim) > 0 {
		kfs := make([]models.Keyframe, 0, len(c.Trim))
		for _, kf := range c.Trim {
			kfs = append(kfs, models.Keyframe{Frame: kf.Frame, Value: kf.TrimValue, Interpolation: interpolation(kf.Interpolation)})
		}
		out = append(out, models.TrackUpsert{CompositionID: compositionID, ClipID: clipID, Channel: models.ChannelTrim, Keyframes: kfs})
	}
	return out
}

func interpolation(i models.Interpolation) models.Interpolation {
	if i == "" {
		return models.InterpolationHold
	}
	return i
}

// Snapshot builds an in-memory composition from the project with fresh clip, track and
// composition ids. It returns the snapshot and the old-to-new clip id mapping.
func (p *Project) Snapshot(ownerID string) (*models.Snapshot, map[string]string) {
	compID := uuid.New().String()
	snap := &models.Snapshot{
		Composition: models.Composition{
			ID:       compID,
			OwnerID:  ownerID,
			Name:     p.Name,
			Settings: p.Settings,
			Version:  1,
		},
		Sources: make(map[string]models.SourceMeta, len(p.Sources)),
	}
	for _, s := range p.Sources {
		snap.Sources[s.ID] = s.model()
	}

	remap := make(map[string]string, len(p.Clips))
	for _, c := range p.Clips {
		clip := c.model(compID)
		clip.ID = uuid.New().String()
		if c.ID != "" {
			remap[c.ID] = clip.ID
		}
		snap.Clips = append(snap.Clips, clip)

		for _, up := range c.tracks(compID, clip.ID) {
			snap.Tracks = append(snap.Tracks, models.Track{
				ID:            uuid.New().String(),
				CompositionID: compID,
				ClipID:        clip.ID,
				Channel:       up.Channel,
				Keyframes:     up.Keyframes,
			})
		}
	}

	return snap, remap
}

func (s Source) model() models.SourceMeta {
	return models.SourceMeta{
		ID:             s.ID,
		URL:            s.URL,
		Width:          s.Width,
		Height:         s.Height,
		FPS:            s.FPS,
		DurationFrames: s.DurationFrames,
		HasAudio:       s.HasAudio,
	}
}

// Store is the persistence an import writes through
type Store interface {
	CreateComposition(ctx context.Context, comp *models.Composition) error
	EnsureSource(ctx context.Context, src *models.SourceMeta) error
	AddClip(ctx context.Context, n models.NewClip) (string, error)
	UpsertTrack(ctx context.Context, upsert models.TrackUpsert) (string, error)
}

// Import persists the project as a new composition owned by ownerID.
// It returns the composition and the old-to-new clip id mapping.
func Import(ctx context.Context, store Store, p *Project, ownerID string) (*models.Composition, map[string]string, error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}

	comp := &models.Composition{
		OwnerID:  ownerID,
		Name:     p.Name,
		Settings: p.Settings,
	}
	if err := store.CreateComposition(ctx, comp); err != nil {
		return nil, nil, err
	}

	for _, s := range p.Sources {
		meta := s.model()
		if err := store.EnsureSource(ctx, &meta); err != nil {
			return nil, nil, err
		}
	}

	remap := make(map[string]string, len(p.Clips))
	for i, c := range p.Clips {
		id, err := store.AddClip(ctx, models.NewClipFrom(c.model(comp.ID)))
		if err != nil {
			return nil, nil, fmt.Errorf("clip %d: %w", i, err)
		}
		if c.ID != "" {
			remap[c.ID] = id
		}

		for _, up := range c.tracks(comp.ID, id) {
			if _, err := store.UpsertTrack(ctx, up); err != nil {
				return nil, nil, fmt.Errorf("clip %d %s track: %w", i, up.Channel, err)
			}
		}
	}

	return comp, remap, nil
}
