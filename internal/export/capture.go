package export

import (
	"context"
	"errors"
	"image"
	"math"

	"golang.org/x/time/rate"

	"github.com/cutroom/cutroom/pkg/models"
)

// ErrNoCaptureFormat is returned when no configured capture format is supported
var ErrNoCaptureFormat = errors.New("no supported capture format")

// Capture is the live output stream composited frames are written to.
// Finish returns the path of the raw captured container; Abort discards it.
type Capture interface {
	Begin(ctx context.Context, settings models.Settings) error
	WriteFrame(ctx context.Context, frame int, img image.Image) error
	Finish(ctx context.Context) (string, error)
	Abort() error
}

// Pacer spaces out frame iterations
type Pacer interface {
	Wait(ctx context.Context) error
}

// RatePacer lets at most fps frames through per second so a realtime capture's
// timestamps approximate wall-clock time
type RatePacer struct {
	limiter *rate.Limiter
}

// NewRatePacer creates a pacer for fps
func NewRatePacer(fps float64) *RatePacer {
	return &RatePacer{limiter: rate.NewLimiter(rate.Limit(math.Max(1, fps)), 1)}
}

func (p *RatePacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// NoPacer never waits. Captures that stamp frames themselves do not need pacing.
type NoPacer struct{}

func (NoPacer) Wait(ctx context.Context) error {
	return ctx.Err()
}
