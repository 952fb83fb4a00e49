package models

import "sort"

// Snapshot is everything needed to preview, edit, or export one composition
type Snapshot struct {
	Composition Composition           `json:"composition"`
	Clips       []Clip                `json:"clips"`
	Tracks      []Track               `json:"tracks"`
	Exports     []ExportJob           `json:"exports"`
	Sources     map[string]SourceMeta `json:"sources"`
}

// Clip looks up a clip by id
func (s *Snapshot) Clip(id string) (Clip, bool) {
	for _, c := range s.Clips {
		if c.ID == id {
			return c, true
		}
	}
	return Clip{}, false
}

// ClipsByZ returns the clips in ascending zIndex order.
// Clips with equal zIndex keep their snapshot order.
func (s *Snapshot) ClipsByZ() []Clip {
	clips := make([]Clip, len(s.Clips))
	copy(clips, s.Clips)
	sort.SliceStable(clips, func(i, j int) bool {
		return clips[i].ZIndex < clips[j].ZIndex
	})
	return clips
}

// TrackFor returns the clip's track for a channel, if any. Should a clip carry
// several, the most recently updated one wins.
func (s *Snapshot) TrackFor(clipID string, channel Channel) (Track, bool) {
	var found Track
	ok := false
	for _, t := range s.Tracks {
		if t.ClipID != clipID || t.Channel != channel {
			continue
		}
		if !ok || !t.UpdatedAt.Before(found.UpdatedAt) {
			found, ok = t, true
		}
	}
	return found, ok
}

// Transform returns the clip's transform, identity when it has no transform track
func (s *Snapshot) Transform(clipID string) TransformValue {
	if t, ok := s.TrackFor(clipID, ChannelTransform); ok {
		return t.Transform()
	}
	return IdentityTransform()
}

// Trim returns the clip's trim clamped to its slot
func (s *Snapshot) Trim(clip Clip) TrimValue {
	if t, ok := s.TrackFor(clip.ID, ChannelTrim); ok {
		return t.Trim().Clamp(clip.SlotDuration())
	}
	return TrimValue{}
}

// Source returns the source metadata for a clip
func (s *Snapshot) Source(clip Clip) (SourceMeta, bool) {
	if s.Sources == nil {
		return SourceMeta{}, false
	}
	meta, ok := s.Sources[clip.SourceMediaID]
	return meta, ok
}

// SourceFPS returns the clip's source frame rate, falling back to the composition fps
func (s *Snapshot) SourceFPS(clip Clip) float64 {
	if meta, ok := s.Source(clip); ok && meta.FPS > 0 {
		return meta.FPS
	}
	return s.Composition.Settings.FPS
}

// ClipsAt returns the clips whose visible window contains frame, in ascending zIndex
func (s *Snapshot) ClipsAt(frame float64) []Clip {
	var active []Clip
	for _, c := range s.ClipsByZ() {
		if c.ContainsFrame(s.Trim(c), frame) {
			active = append(active, c)
		}
	}
	return active
}

// RemoveClip drops a clip and cascades to its tracks
func (s *Snapshot) RemoveClip(id string) {
	clips := s.Clips[:0]
	for _, c := range s.Clips {
		if c.ID != id {
			clips = append(clips, c)
		}
	}
	s.Clips = clips

	tracks := s.Tracks[:0]
	for _, t := range s.Tracks {
		if t.ClipID != id {
			tracks = append(tracks, t)
		}
	}
	s.Tracks = tracks
}
