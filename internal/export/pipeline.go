package export

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog"

	"github.com/cutroom/cutroom/internal/metrics"
	"github.com/cutroom/cutroom/internal/playback"
	"github.com/cutroom/cutroom/pkg/models"
)

// ExportSeekTolerance is the drift in seconds an export source may have before it is
// re-seeked. It is tighter than preview so every captured frame is the right one.
const ExportSeekTolerance = 1.0 / 120

// Options tunes a Pipeline
type Options struct {
	SeekTolerance       float64
	AudioDriftTolerance float64
	ReadyTimeout        time.Duration
	Concurrency         int
}

// DefaultOptions returns the export tuning
func DefaultOptions() Options {
	return Options{
		SeekTolerance:       ExportSeekTolerance,
		AudioDriftTolerance: AudioDriftTolerance,
		ReadyTimeout:        playback.DefaultReadyTimeout,
		Concurrency:         playback.DefaultSeekConcurrency,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.SeekTolerance <= 0 {
		o.SeekTolerance = def.SeekTolerance
	}
	if o.AudioDriftTolerance <= 0 {
		o.AudioDriftTolerance = def.AudioDriftTolerance
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = def.ReadyTimeout
	}
	if o.Concurrency <= 0 {
		o.Concurrency = def.Concurrency
	}
	return o
}

func (o Options) seekOptions() playback.Options {
	return playback.Options{
		SeekTolerance: o.SeekTolerance,
		ReadyTimeout:  o.ReadyTimeout,
		Concurrency:   o.Concurrency,
		ExactFrames:   true,
	}
}

// ProgressFunc receives render progress in [0, 1]
type ProgressFunc func(frame int, progress float64)

// Target is where one render writes: the capture stream, the shared audio sink and a
// progress callback. Audio, Pacer and Progress may be nil.
type Target struct {
	Capture  Capture
	Audio    AudioSink
	Pacer    Pacer
	Progress ProgressFunc
}

// Result describes a finished render
type Result struct {
	RawPath string
	Frames  int
}

// Pipeline re-renders a composition frame by frame
type Pipeline struct {
	factory playback.SourceFactory
	opts    Options
	logger  zerolog.Logger
}

// NewPipeline creates a pipeline that opens clip media through factory
func NewPipeline(factory playback.SourceFactory, opts Options, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		factory: factory,
		opts:    opts.withDefaults(),
		logger:  logger,
	}
}

// Render composites every frame of the composition in order and captures it.
// Frame N is captured before frame N+1 is drawn. Any error aborts the capture.
func (p *Pipeline) Render(ctx context.Context, snap *models.Snapshot, target Target) (*Result, error) {
	settings := snap.Composition.Settings
	total := settings.DurationFrames

	arena := playback.NewArena(p.factory, p.logger)
	defer arena.Close()

	if err := p.acquireAll(ctx, arena, snap); err != nil {
		return nil, err
	}

	if err := target.Capture.Begin(ctx, settings); err != nil {
		return nil, fmt.Errorf("failed to begin capture: %w", err)
	}

	result, err := p.renderFrames(ctx, snap, arena, target)
	if err != nil {
		if abortErr := target.Capture.Abort(); abortErr != nil {
			p.logger.Warn().Err(abortErr).Msg("Failed to discard partial capture")
		}
		return nil, err
	}

	p.logger.Debug().
		Str("composition_id", snap.Composition.ID).
		Int("frames", total).
		Msg("Render finished")

	return result, nil
}

func (p *Pipeline) renderFrames(ctx context.Context, snap *models.Snapshot, arena *playback.Arena, target Target) (*Result, error) {
	settings := snap.Composition.Settings
	total := settings.DurationFrames
	surface := playback.NewRGBASurface(settings.Width, settings.Height)
	audio := &audioRouter{sink: target.Audio, tolerance: p.opts.AudioDriftTolerance}

	for frame := 0; frame < total; frame++ {
		start := time.Now()

		if err := audio.route(ctx, snap, frame); err != nil {
			return nil, fmt.Errorf("frame %d: %w", frame, err)
		}

		if err := p.drawFrame(ctx, snap, arena, surface, frame); err != nil {
			return nil, err
		}

		if err := target.Capture.WriteFrame(ctx, frame, surface.Image()); err != nil {
			return nil, fmt.Errorf("failed to capture frame %d: %w", frame, err)
		}
		if target.Progress != nil {
			target.Progress(frame, float64(frame)/float64(total))
		}
		metrics.RecordFrameRendered(time.Since(start).Seconds())

		if target.Pacer != nil {
			if err := target.Pacer.Wait(ctx); err != nil {
				return nil, err
			}
		}
	}

	audio.stop(total)
	if target.Progress != nil {
		target.Progress(total, 1.0)
	}

	raw, err := target.Capture.Finish(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to finish capture: %w", err)
	}
	return &Result{RawPath: raw, Frames: total}, nil
}

// RenderFrame composites a single frame without capturing it
func (p *Pipeline) RenderFrame(ctx context.Context, snap *models.Snapshot, frame int) (*image.RGBA, error) {
	settings := snap.Composition.Settings
	if frame < 0 || frame >= settings.DurationFrames {
		return nil, fmt.Errorf("frame %d outside composition of %d frames", frame, settings.DurationFrames)
	}

	arena := playback.NewArena(p.factory, p.logger)
	defer arena.Close()

	surface := playback.NewRGBASurface(settings.Width, settings.Height)
	if err := p.drawFrame(ctx, snap, arena, surface, frame); err != nil {
		return nil, err
	}
	return surface.Image(), nil
}

// acquireAll opens one source per clip up front
func (p *Pipeline) acquireAll(ctx context.Context, arena *playback.Arena, snap *models.Snapshot) error {
	for _, clip := range snap.Clips {
		meta, _ := snap.Source(clip)
		if _, err := arena.Acquire(ctx, clip, meta); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) drawFrame(ctx context.Context, snap *models.Snapshot, arena *playback.Arena, surface playback.Surface, frame int) error {
	actives := playback.Resolve(snap, float64(frame))
	for i := range actives {
		src, err := arena.Acquire(ctx, actives[i].Clip, actives[i].Meta)
		if err != nil {
			return err
		}
		actives[i].Source = src
	}

	if err := playback.SeekAll(ctx, actives, p.opts.seekOptions(), nil); err != nil {
		return fmt.Errorf("frame %d: %w", frame, err)
	}

	playback.Compose(surface, snap.Composition.Settings, actives)
	return nil
}
