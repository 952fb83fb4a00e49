package transcoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os/exec"
	"sync"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/cutroom/cutroom/internal/playback"
	"github.com/cutroom/cutroom/pkg/models"
)

var errSourceClosed = errors.New("source closed")

// FrameSourceFactory opens media sources that decode single frames with ffmpeg.
// It backs headless rendering where no browser media element exists.
type FrameSourceFactory struct {
	ffmpeg *FFmpeg
}

var _ playback.SourceFactory = (*FrameSourceFactory)(nil)

// NewFrameSourceFactory creates a factory decoding through f
func NewFrameSourceFactory(f *FFmpeg) *FrameSourceFactory {
	return &FrameSourceFactory{ffmpeg: f}
}

func (fs *FrameSourceFactory) Open(ctx context.Context, clip models.Clip, meta models.SourceMeta) (playback.MediaSource, error) {
	if meta.URL == "" {
		return nil, fmt.Errorf("clip %s references unknown media %s", clip.ID, clip.SourceMediaID)
	}
	if meta.Width <= 0 || meta.Height <= 0 {
		return nil, fmt.Errorf("media %s has no video size", meta.ID)
	}

	bin, err := fs.ffmpeg.Runtime(ctx)
	if err != nil {
		return nil, err
	}

	return &frameSource{
		bin:    bin,
		url:    meta.URL,
		width:  meta.Width,
		height: meta.Height,
		paused: true,
	}, nil
}

// frameSource decodes the frame at each seek target in the background.
// It has no clock of its own, so its position only moves on Seek.
type frameSource struct {
	bin    string
	url    string
	width  int
	height int

	mu      sync.Mutex
	pos     float64
	paused  bool
	frame   image.Image
	pending chan struct{}
	cancel  context.CancelFunc
	err     error
	closed  bool
}

func (s *frameSource) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *frameSource) Seek(ctx context.Context, seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errSourceClosed
	}
	if s.cancel != nil {
		s.cancel()
	}

	decodeCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.pending = done
	s.pos = seconds
	s.err = nil

	go s.decode(decodeCtx, seconds, done)
	return nil
}

func (s *frameSource) decode(ctx context.Context, seconds float64, done chan struct{}) {
	defer close(done)

	img, err := DecodeFrame(ctx, s.bin, s.url, seconds, s.width, s.height)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != done {
		return
	}
	if err != nil {
		s.err = err
		return
	}
	s.frame = img
}

func (s *frameSource) WaitReady(ctx context.Context) error {
	s.mu.Lock()
	done := s.pending
	s.mu.Unlock()

	if done == nil {
		return fmt.Errorf("no seek issued")
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *frameSource) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSourceClosed
	}
	s.paused = false
	return nil
}

func (s *frameSource) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

func (s *frameSource) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *frameSource) Frame() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

func (s *frameSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.closed = true
	s.frame = nil
	return nil
}

// DecodeFrame decodes the frame of url at seconds as RGBA
func DecodeFrame(ctx context.Context, bin, url string, seconds float64, width, height int) (*image.RGBA, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, BuildDecodeArgs(url, seconds, width, height)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("failed to decode frame at %.3fs: %w, stderr: %s", seconds, err, tail(stderr.String(), 1024))
	}

	size := width * height * 4
	if stdout.Len() < size {
		return nil, fmt.Errorf("short frame at %.3fs: got %d bytes, want %d", seconds, stdout.Len(), size)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	copy(img.Pix, stdout.Bytes()[:size])
	return img, nil
}

// BuildDecodeArgs returns the ffmpeg arguments that write one RGBA frame to stdout
func BuildDecodeArgs(url string, seconds float64, width, height int) []string {
	return ffmpeg.Input(url, ffmpeg.KwArgs{"ss": formatFloat(seconds)}).Video().
		Output("pipe:1", ffmpeg.KwArgs{
			"frames:v": 1,
			"f":        "rawvideo",
			"pix_fmt":  "rgba",
			"s":        fmt.Sprintf("%dx%d", width, height),
		}).GetArgs()
}
