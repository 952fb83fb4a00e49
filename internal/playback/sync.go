package playback

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cutroom/cutroom/internal/metrics"
	"github.com/cutroom/cutroom/pkg/models"
)

// Tunable tolerances. The values are empirical.
const (
	// PreviewSeekTolerance is the drift in seconds a preview source may have before it is re-seeked
	PreviewSeekTolerance = 0.02
	// DefaultSeekGrace is how long a seek may take before drawing proceeds with whatever frame is held
	DefaultSeekGrace = 250 * time.Millisecond
	// DefaultReadyTimeout bounds the wait for a source's first decodable frame
	DefaultReadyTimeout = 5 * time.Second
	// DefaultSeekConcurrency bounds concurrent seeks within one pass
	DefaultSeekConcurrency = 8
)

// Options tunes a Synchronizer
type Options struct {
	SeekTolerance float64
	SeekGrace     time.Duration
	ReadyTimeout  time.Duration
	Concurrency   int
	// ExactFrames waits up to ReadyTimeout, not SeekGrace, for the frame at every seek target
	ExactFrames bool
}

// DefaultOptions returns the preview tuning
func DefaultOptions() Options {
	return Options{
		SeekTolerance: PreviewSeekTolerance,
		SeekGrace:     DefaultSeekGrace,
		ReadyTimeout:  DefaultReadyTimeout,
		Concurrency:   DefaultSeekConcurrency,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.SeekTolerance <= 0 {
		o.SeekTolerance = def.SeekTolerance
	}
	if o.SeekGrace <= 0 {
		o.SeekGrace = def.SeekGrace
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = def.ReadyTimeout
	}
	if o.Concurrency <= 0 {
		o.Concurrency = def.Concurrency
	}
	return o
}

// Active is a clip whose visible window contains the playhead
type Active struct {
	Clip      models.Clip
	Meta      models.SourceMeta
	Transform models.TransformValue
	Trim      models.TrimValue
	Seconds   float64
	Source    MediaSource
}

// Resolve computes the active clips at playhead in ascending zIndex order without touching sources
func Resolve(snap *models.Snapshot, playhead float64) []Active {
	var actives []Active
	for _, clip := range snap.ClipsByZ() {
		trim := snap.Trim(clip)
		if !clip.ContainsFrame(trim, playhead) {
			continue
		}
		meta, _ := snap.Source(clip)
		actives = append(actives, Active{
			Clip:      clip,
			Meta:      meta,
			Transform: snap.Transform(clip.ID),
			Trim:      trim,
			Seconds:   clip.SourceSeconds(trim, playhead, snap.SourceFPS(clip)),
		})
	}
	return actives
}

// Synchronizer drives every clip's media source to the playhead
type Synchronizer struct {
	arena  *Arena
	opts   Options
	logger zerolog.Logger
}

// NewSynchronizer creates a synchronizer over an arena
func NewSynchronizer(arena *Arena, opts Options, logger zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		arena:  arena,
		opts:   opts.withDefaults(),
		logger: logger,
	}
}

// Arena returns the synchronizer's source arena
func (s *Synchronizer) Arena() *Arena {
	return s.arena
}

// Sync aligns sources to playhead: active sources are seeked when they drift beyond
// tolerance, inactive ones are paused, and active ones follow the transport state.
// The returned clips are in ascending zIndex order, ready to draw.
func (s *Synchronizer) Sync(ctx context.Context, snap *models.Snapshot, playhead float64, playing bool) ([]Active, error) {
	s.arena.Retain(snap.Clips)

	actives := Resolve(snap, playhead)
	activeIDs := make(map[string]struct{}, len(actives))
	for i := range actives {
		src, err := s.arena.Acquire(ctx, actives[i].Clip, actives[i].Meta)
		if err != nil {
			return nil, err
		}
		actives[i].Source = src
		activeIDs[actives[i].Clip.ID] = struct{}{}
	}

	for _, clip := range snap.Clips {
		if _, ok := activeIDs[clip.ID]; ok {
			continue
		}
		if src, ok := s.arena.Lookup(clip.ID); ok && !src.Paused() {
			src.Pause()
		}
	}

	if err := s.seek(ctx, actives); err != nil {
		return nil, err
	}

	for _, a := range actives {
		if playing {
			if err := a.Source.Play(); err != nil {
				return nil, fmt.Errorf("failed to resume clip %s: %w", a.Clip.ID, err)
			}
		} else if !a.Source.Paused() {
			a.Source.Pause()
		}
	}

	return actives, nil
}

func (s *Synchronizer) seek(ctx context.Context, actives []Active) error {
	return SeekAll(ctx, actives, s.opts, func(issued bool) {
		metrics.RecordPreviewSeek(issued)
	})
}

// SeekAll seeks every drifting source concurrently and waits for each to settle
func SeekAll(ctx context.Context, actives []Active, opts Options, observe func(issued bool)) error {
	opts = opts.withDefaults()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for _, a := range actives {
		a := a
		drift := math.Abs(a.Source.CurrentTime() - a.Seconds)
		if drift <= opts.SeekTolerance && a.Source.Frame() != nil {
			if observe != nil {
				observe(false)
			}
			continue
		}
		if observe != nil {
			observe(true)
		}

		g.Go(func() error {
			if err := a.Source.Seek(gctx, a.Seconds); err != nil {
				return fmt.Errorf("failed to seek clip %s: %w", a.Clip.ID, err)
			}
			settle := func() error {
				return Settle(gctx, a.Source, opts.SeekGrace, opts.ReadyTimeout)
			}
			if opts.ExactFrames {
				settle = func() error {
					return AwaitFrame(gctx, a.Source, opts.ReadyTimeout)
				}
			}
			if err := settle(); err != nil {
				return fmt.Errorf("clip %s: %w", a.Clip.ID, err)
			}
			return nil
		})
	}

	return g.Wait()
}
