// Package playbacktest provides in-memory media sources for tests.
package playbacktest

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/cutroom/cutroom/internal/playback"
	"github.com/cutroom/cutroom/pkg/models"
)

// Source is a MediaSource that decodes instantly into a solid-color frame
type Source struct {
	ClipID string
	Color  color.RGBA
	Width  int
	Height int
	// NeverReady makes the source hang on WaitReady without ever producing a frame
	NeverReady bool

	mu     sync.Mutex
	pos    float64
	paused bool
	frame  image.Image
	seeks  []float64
	plays  int
	closed bool
}

func (s *Source) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *Source) Seek(ctx context.Context, seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeks = append(s.seeks, seconds)
	if s.NeverReady {
		return nil
	}
	s.pos = seconds
	if s.frame == nil {
		img := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
		for i := 0; i < len(img.Pix); i += 4 {
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = s.Color.R, s.Color.G, s.Color.B, s.Color.A
		}
		s.frame = img
	}
	return nil
}

func (s *Source) WaitReady(ctx context.Context) error {
	if s.NeverReady {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (s *Source) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	s.plays++
	return nil
}

func (s *Source) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

func (s *Source) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Source) Frame() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Seeks returns every seek target received
func (s *Source) Seeks() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.seeks))
	copy(out, s.seeks)
	return out
}

// Closed reports whether Close was called
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Drift moves the reported position without a seek
func (s *Source) Drift(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos += seconds
}

// Factory opens Sources and remembers them by clip id
type Factory struct {
	Colors     map[string]color.RGBA
	NeverReady map[string]bool

	mu      sync.Mutex
	sources map[string]*Source
	opened  int
}

var _ playback.SourceFactory = (*Factory)(nil)

func (f *Factory) Open(ctx context.Context, clip models.Clip, meta models.SourceMeta) (playback.MediaSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sources == nil {
		f.sources = make(map[string]*Source)
	}

	w, h := meta.Width, meta.Height
	if w <= 0 || h <= 0 {
		w, h = 16, 9
	}
	c, ok := f.Colors[clip.ID]
	if !ok {
		c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	}

	src := &Source{ClipID: clip.ID, Color: c, Width: w, Height: h, NeverReady: f.NeverReady[clip.ID], paused: true}
	f.sources[clip.ID] = src
	f.opened++
	return src, nil
}

// Source returns the most recently opened source for a clip
func (f *Factory) Source(clipID string) *Source {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sources[clipID]
}

// Opened returns how many sources were opened
func (f *Factory) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

// DelayedSource decodes each seek target after Delay in the background, abandoning the
// decode of any earlier seek. The red channel of its frames is the decoded source frame
// number at FPS, so tests can tell which seek a drawn frame came from.
type DelayedSource struct {
	Delay time.Duration
	FPS   float64

	mu      sync.Mutex
	pos     float64
	paused  bool
	frame   image.Image
	pending chan struct{}
	cancel  context.CancelFunc
}

// NewDelayedSource creates a paused source with no frame
func NewDelayedSource(delay time.Duration, fps float64) *DelayedSource {
	return &DelayedSource{Delay: delay, FPS: fps, paused: true}
}

func (s *DelayedSource) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *DelayedSource) Seek(ctx context.Context, seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	decodeCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel, s.pending, s.pos = cancel, done, seconds

	go s.decode(decodeCtx, seconds, done)
	return nil
}

func (s *DelayedSource) decode(ctx context.Context, seconds float64, done chan struct{}) {
	defer close(done)

	select {
	case <-time.After(s.Delay):
	case <-ctx.Done():
		return
	}

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	red := uint8(math.Round(seconds * s.FPS))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+3] = red, 255
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == done {
		s.frame = img
	}
}

func (s *DelayedSource) WaitReady(ctx context.Context) error {
	s.mu.Lock()
	done := s.pending
	s.mu.Unlock()
	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *DelayedSource) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	return nil
}

func (s *DelayedSource) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

func (s *DelayedSource) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *DelayedSource) Frame() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

func (s *DelayedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// DelayedFactory opens a DelayedSource per clip
type DelayedFactory struct {
	Delay time.Duration
	FPS   float64
}

var _ playback.SourceFactory = DelayedFactory{}

func (f DelayedFactory) Open(ctx context.Context, clip models.Clip, meta models.SourceMeta) (playback.MediaSource, error) {
	return NewDelayedSource(f.Delay, f.FPS), nil
}
