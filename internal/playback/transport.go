package playback

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cutroom/cutroom/pkg/models"
)

// TickSource invokes a callback at display rate. Implementations never run two
// callbacks concurrently.
type TickSource interface {
	Start(fn func(elapsed time.Duration))
	Stop()
}

// IntervalTicker is a TickSource backed by a time.Ticker
type IntervalTicker struct {
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewIntervalTicker creates a ticker firing every interval
func NewIntervalTicker(interval time.Duration) *IntervalTicker {
	return &IntervalTicker{interval: interval}
}

// Start begins invoking fn from a single goroutine. Calling Start twice restarts it.
func (t *IntervalTicker) Start(fn func(elapsed time.Duration)) {
	t.Stop()

	t.mu.Lock()
	stop := make(chan struct{})
	done := make(chan struct{})
	t.stop, t.done = stop, done
	t.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		last := time.Now()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				fn(now.Sub(last))
				last = now
			}
		}
	}()
}

// Stop detaches the callback and waits for an in-flight tick to return
func (t *IntervalTicker) Stop() {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// ManualTicker is a TickSource advanced explicitly, for tests and headless use
type ManualTicker struct {
	mu sync.Mutex
	fn func(elapsed time.Duration)
}

func (t *ManualTicker) Start(fn func(elapsed time.Duration)) {
	t.mu.Lock()
	t.fn = fn
	t.mu.Unlock()
}

func (t *ManualTicker) Stop() {
	t.mu.Lock()
	t.fn = nil
	t.mu.Unlock()
}

// Advance runs one tick synchronously. It is a no-op when stopped.
func (t *ManualTicker) Advance(elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fn != nil {
		t.fn(elapsed)
	}
}

// FrameFunc receives each composited preview frame
type FrameFunc func(playhead float64, actives []Active)

// Transport advances the playhead from a tick source and redraws the preview
type Transport struct {
	ticker   TickSource
	sync     *Synchronizer
	surface  Surface
	snapshot func() *models.Snapshot
	onFrame  FrameFunc
	logger   zerolog.Logger

	mu       sync.Mutex
	ctx      context.Context
	playhead float64
	playing  bool
}

// NewTransport wires a tick source to a synchronizer. snapshot is read on every
// tick so edits show up immediately.
func NewTransport(ticker TickSource, synchronizer *Synchronizer, surface Surface, snapshot func() *models.Snapshot, logger zerolog.Logger) *Transport {
	return &Transport{
		ticker:   ticker,
		sync:     synchronizer,
		surface:  surface,
		snapshot: snapshot,
		logger:   logger,
		ctx:      context.Background(),
	}
}

// OnFrame registers a callback invoked after each successful tick
func (t *Transport) OnFrame(fn FrameFunc) {
	t.mu.Lock()
	t.onFrame = fn
	t.mu.Unlock()
}

// Start attaches the transport to its tick source
func (t *Transport) Start(ctx context.Context) {
	t.mu.Lock()
	t.ctx = ctx
	t.mu.Unlock()
	t.ticker.Start(t.tick)
}

// Stop detaches the transport; nothing in flight needs cancelling
func (t *Transport) Stop() {
	t.ticker.Stop()
}

func (t *Transport) Play() {
	t.mu.Lock()
	t.playing = true
	t.mu.Unlock()
}

func (t *Transport) Pause() {
	t.mu.Lock()
	t.playing = false
	t.mu.Unlock()
}

// Seek moves the playhead, clamped to the composition
func (t *Transport) Seek(frame float64) {
	snap := t.snapshot()
	if snap == nil {
		return
	}

	t.mu.Lock()
	t.playhead = clampPlayhead(frame, snap.Composition.Settings.DurationFrames)
	t.mu.Unlock()
}

func (t *Transport) Playhead() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playhead
}

func (t *Transport) Playing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

func clampPlayhead(frame float64, duration int) float64 {
	if frame < 0 || duration <= 0 {
		return 0
	}
	if frame >= float64(duration) {
		return float64(duration - 1)
	}
	return frame
}

// Advance moves a playhead by elapsed at fps, wrapping to 0 past the end
func Advance(playhead float64, elapsed time.Duration, settings models.Settings) float64 {
	next := playhead + elapsed.Seconds()*settings.FPS
	if next >= float64(settings.DurationFrames) {
		return 0
	}
	return next
}

func (t *Transport) tick(elapsed time.Duration) {
	snap := t.snapshot()
	if snap == nil {
		return
	}

	t.mu.Lock()
	if t.playing {
		t.playhead = Advance(t.playhead, elapsed, snap.Composition.Settings)
	}
	playhead, playing, ctx, onFrame := t.playhead, t.playing, t.ctx, t.onFrame
	t.mu.Unlock()

	actives, err := t.sync.Sync(ctx, snap, playhead, playing)
	if err != nil {
		t.logger.Warn().Err(err).Float64("playhead", playhead).Msg("Preview sync aborted")
		return
	}

	Compose(t.surface, snap.Composition.Settings, actives)

	if onFrame != nil {
		onFrame(playhead, actives)
	}
}
