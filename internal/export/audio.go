package export

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/cutroom/cutroom/pkg/models"
)

// AudioDriftTolerance is how far, in seconds, the routed audio may drift before it is re-seeked
const AudioDriftTolerance = 0.1

// SelectAudio picks the clip whose audio is heard at frame. Candidates are visited in
// ascending zIndex and each match overwrites the last, so the highest zIndex wins and
// equal zIndex falls back to snapshot order.
func SelectAudio(snap *models.Snapshot, frame int) (models.Clip, bool) {
	var best models.Clip
	found := false
	for _, clip := range snap.ClipsByZ() {
		if !clip.HasAudio() || !clip.ContainsFrame(snap.Trim(clip), float64(frame)) {
			continue
		}
		best = clip
		found = true
	}
	return best, found
}

// AudioSink is the single shared audio element used during export.
// Frame arguments give headless sinks a clock.
type AudioSink interface {
	Pause(frame int)
	Load(clip models.Clip, meta models.SourceMeta) error
	Seek(ctx context.Context, seconds float64, frame int) error
	Play(frame int) error
	Position(frame int) float64
}

// audioRouter keeps exactly one clip's audio routed through the sink
type audioRouter struct {
	sink      AudioSink
	tolerance float64
	current   string
}

func (r *audioRouter) route(ctx context.Context, snap *models.Snapshot, frame int) error {
	if r.sink == nil {
		return nil
	}

	clip, ok := SelectAudio(snap, frame)
	if !ok {
		if r.current != "" {
			r.sink.Pause(frame)
			r.current = ""
		}
		return nil
	}

	seconds := clip.SourceSeconds(snap.Trim(clip), float64(frame), snap.SourceFPS(clip))

	if clip.ID != r.current {
		r.sink.Pause(frame)
		meta, _ := snap.Source(clip)
		if err := r.sink.Load(clip, meta); err != nil {
			return fmt.Errorf("failed to route audio to clip %s: %w", clip.ID, err)
		}
		if err := r.sink.Seek(ctx, seconds, frame); err != nil {
			return fmt.Errorf("failed to seek audio for clip %s: %w", clip.ID, err)
		}
		if err := r.sink.Play(frame); err != nil {
			return fmt.Errorf("failed to resume audio for clip %s: %w", clip.ID, err)
		}
		r.current = clip.ID
		return nil
	}

	if math.Abs(r.sink.Position(frame)-seconds) > r.tolerance {
		if err := r.sink.Seek(ctx, seconds, frame); err != nil {
			return fmt.Errorf("failed to correct audio drift for clip %s: %w", clip.ID, err)
		}
	}
	return nil
}

func (r *audioRouter) stop(frame int) {
	if r.sink != nil && r.current != "" {
		r.sink.Pause(frame)
		r.current = ""
	}
}

// Cue is a span of output frames during which one clip's audio plays
type Cue struct {
	ClipID        string  `json:"clip_id"`
	MediaID       string  `json:"media_id"`
	URL           string  `json:"url"`
	SourceSeconds float64 `json:"source_seconds"`
	Tempo         float64 `json:"tempo"`
	StartFrame    int     `json:"start_frame"`
	EndFrame      int     `json:"end_frame"`
}

// Frames is the cue's length in output frames
func (c Cue) Frames() int {
	return c.EndFrame - c.StartFrame
}

// CueSink is a headless AudioSink. Instead of playing audio it records cues that the
// finalization pass mixes into the output.
type CueSink struct {
	fps float64

	mu       sync.Mutex
	clip     *models.Clip
	meta     models.SourceMeta
	pos      float64
	posFrame int
	playing  bool
	open     *Cue
	cues     []Cue
}

var _ AudioSink = (*CueSink)(nil)

// NewCueSink creates a sink clocked at the composition fps
func NewCueSink(fps float64) *CueSink {
	return &CueSink{fps: math.Max(1, fps)}
}

func (s *CueSink) Pause(frame int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.playing {
		return
	}
	s.pos = s.positionAt(frame)
	s.posFrame = frame
	s.playing = false
	s.closeCue(frame)
}

func (s *CueSink) Load(clip models.Clip, meta models.SourceMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.playing {
		return fmt.Errorf("cannot load clip %s while playing", clip.ID)
	}
	c := clip
	s.clip = &c
	s.meta = meta
	s.pos = 0
	return nil
}

func (s *CueSink) Seek(ctx context.Context, seconds float64, frame int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clip == nil {
		return fmt.Errorf("no clip loaded")
	}
	if s.playing {
		s.closeCue(frame)
		s.openCue(seconds, frame)
	}
	s.pos = seconds
	s.posFrame = frame
	return nil
}

func (s *CueSink) Play(frame int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clip == nil {
		return fmt.Errorf("no clip loaded")
	}
	if s.playing {
		return nil
	}
	s.playing = true
	s.posFrame = frame
	s.openCue(s.pos, frame)
	return nil
}

func (s *CueSink) Position(frame int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionAt(frame)
}

// Cues returns the finished cues in output order
func (s *CueSink) Cues() []Cue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Cue, len(s.cues))
	copy(out, s.cues)
	return out
}

func (s *CueSink) positionAt(frame int) float64 {
	if !s.playing || s.clip == nil {
		return s.pos
	}
	return s.pos + float64(frame-s.posFrame)/s.fps*s.tempo()
}

// tempo is source seconds played per output second. Timeline frames map one to one onto
// source frames scaled by speed, so a source at a different fps plays proportionally faster.
func (s *CueSink) tempo() float64 {
	speed := math.Max(s.clip.Speed, models.SpeedEpsilon)
	if s.meta.FPS > 0 {
		return speed * s.fps / s.meta.FPS
	}
	return speed
}

func (s *CueSink) openCue(seconds float64, frame int) {
	s.open = &Cue{
		ClipID:        s.clip.ID,
		MediaID:       s.clip.SourceMediaID,
		URL:           s.meta.URL,
		SourceSeconds: seconds,
		Tempo:         s.tempo(),
		StartFrame:    frame,
	}
}

func (s *CueSink) closeCue(frame int) {
	if s.open == nil {
		return
	}
	s.open.EndFrame = frame
	if s.open.Frames() > 0 {
		s.cues = append(s.cues, *s.open)
	}
	s.open = nil
}
