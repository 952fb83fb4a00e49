// Package playback keeps one media source per clip aligned to a shared playhead
// and composites the active clips onto a single surface.
package playback

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cutroom/cutroom/pkg/models"
)

// ErrMediaNotReady is returned when a source has no decodable frame within its wait budget
var ErrMediaNotReady = errors.New("media source not ready")

// MediaSource is a seekable decode handle dedicated to one clip
type MediaSource interface {
	// CurrentTime is the source position in seconds
	CurrentTime() float64
	// Seek moves the source to seconds; decoding completes asynchronously
	Seek(ctx context.Context, seconds float64) error
	// WaitReady blocks until a frame at the last seek target is decoded
	WaitReady(ctx context.Context) error
	Play() error
	Pause()
	Paused() bool
	// Frame returns the most recently decoded frame, or nil before the first decode
	Frame() image.Image
	Close() error
}

// SourceFactory opens media sources for clips
type SourceFactory interface {
	Open(ctx context.Context, clip models.Clip, meta models.SourceMeta) (MediaSource, error)
}

// Arena owns the media sources of a composition, keyed by clip id.
// Sources are opened lazily on first use and closed when their clip disappears.
type Arena struct {
	factory SourceFactory
	logger  zerolog.Logger

	mu      sync.Mutex
	sources map[string]MediaSource
}

// NewArena creates an empty arena
func NewArena(factory SourceFactory, logger zerolog.Logger) *Arena {
	return &Arena{
		factory: factory,
		logger:  logger,
		sources: make(map[string]MediaSource),
	}
}

// Acquire returns the clip's source, opening it on first use
func (a *Arena) Acquire(ctx context.Context, clip models.Clip, meta models.SourceMeta) (MediaSource, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if src, ok := a.sources[clip.ID]; ok {
		return src, nil
	}

	src, err := a.factory.Open(ctx, clip, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to open source for clip %s: %w", clip.ID, err)
	}
	a.sources[clip.ID] = src
	a.logger.Debug().Str("clip_id", clip.ID).Str("media_id", clip.SourceMediaID).Msg("Opened media source")

	return src, nil
}

// Lookup returns the clip's source if one is open
func (a *Arena) Lookup(clipID string) (MediaSource, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	src, ok := a.sources[clipID]
	return src, ok
}

// Release closes and forgets the clip's source
func (a *Arena) Release(clipID string) error {
	a.mu.Lock()
	src, ok := a.sources[clipID]
	delete(a.sources, clipID)
	a.mu.Unlock()

	if !ok {
		return nil
	}
	if err := src.Close(); err != nil {
		return fmt.Errorf("failed to close source for clip %s: %w", clipID, err)
	}
	return nil
}

// Retain closes every source whose clip is not in clips
func (a *Arena) Retain(clips []models.Clip) {
	keep := make(map[string]struct{}, len(clips))
	for _, c := range clips {
		keep[c.ID] = struct{}{}
	}

	a.mu.Lock()
	var stale []string
	for id := range a.sources {
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	a.mu.Unlock()

	for _, id := range stale {
		if err := a.Release(id); err != nil {
			a.logger.Warn().Err(err).Str("clip_id", id).Msg("Failed to release media source")
		}
	}
}

// Len returns the number of open sources
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sources)
}

// Close closes every source
func (a *Arena) Close() error {
	a.mu.Lock()
	sources := a.sources
	a.sources = make(map[string]MediaSource)
	a.mu.Unlock()

	var errs []error
	for id, src := range sources {
		if err := src.Close(); err != nil {
			errs = append(errs, fmt.Errorf("clip %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Settle waits for src to decode its seek target. After grace it proceeds as long as
// the source holds some frame; a source with no frame by readyTimeout is not ready.
func Settle(ctx context.Context, src MediaSource, grace, readyTimeout time.Duration) error {
	graceCtx, cancel := context.WithTimeout(ctx, grace)
	err := src.WaitReady(graceCtx)
	cancel()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if src.Frame() != nil {
		return nil
	}

	remaining := readyTimeout - grace
	if remaining <= 0 {
		return fmt.Errorf("%w: %v", ErrMediaNotReady, err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()
	if err := src.WaitReady(readyCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrMediaNotReady, err)
	}
	return nil
}

// AwaitFrame waits up to readyTimeout for src to decode its seek target. Unlike Settle
// it ignores any held frame until that budget is spent, then draws the held frame rather
// than stalling the render. A source with no frame at all is not ready.
func AwaitFrame(ctx context.Context, src MediaSource, readyTimeout time.Duration) error {
	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	err := src.WaitReady(readyCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if src.Frame() != nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrMediaNotReady, err)
}
