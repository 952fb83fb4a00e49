package transcoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"golang.org/x/image/draw"

	"github.com/cutroom/cutroom/internal/export"
	"github.com/cutroom/cutroom/internal/logging"
	"github.com/cutroom/cutroom/pkg/models"
)

// CaptureFormat is one container/codec pair a raw capture can be written as
type CaptureFormat struct {
	Muxer string `mapstructure:"muxer" yaml:"muxer"`
	Codec string `mapstructure:"codec" yaml:"codec"`
	Ext   string `mapstructure:"ext" yaml:"ext"`
}

// DefaultCaptureFormats lists lossless capture formats in preference order
var DefaultCaptureFormats = []CaptureFormat{
	{Muxer: "nut", Codec: "ffv1", Ext: "nut"},
	{Muxer: "matroska", Codec: "ffv1", Ext: "mkv"},
	{Muxer: "avi", Codec: "rawvideo", Ext: "avi"},
}

// RawCapture pipes composited RGBA frames into an ffmpeg process that writes a
// lossless intermediate file. The first supported format is used.
type RawCapture struct {
	ffmpeg  *FFmpeg
	dir     string
	formats []CaptureFormat
	logger  *logging.Logger

	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stderr   bytes.Buffer
	path     string
	settings models.Settings
	frames   int
	scratch  *image.RGBA
}

var _ export.Capture = (*RawCapture)(nil)

// NewRawCapture creates a capture writing into dir
func NewRawCapture(f *FFmpeg, dir string, formats []CaptureFormat, logger *logging.Logger) *RawCapture {
	if len(formats) == 0 {
		formats = DefaultCaptureFormats
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &RawCapture{ffmpeg: f, dir: dir, formats: formats, logger: logger}
}

// CaptureFactory adapts NewRawCapture to the export service
func CaptureFactory(f *FFmpeg, formats []CaptureFormat, logger *logging.Logger) export.CaptureFactory {
	return func(dir string) export.Capture {
		return NewRawCapture(f, dir, formats, logger)
	}
}

func (c *RawCapture) Begin(ctx context.Context, settings models.Settings) error {
	if c.cmd != nil {
		return fmt.Errorf("capture already started")
	}
	if settings.Width <= 0 || settings.Height <= 0 {
		return fmt.Errorf("invalid capture size %dx%d", settings.Width, settings.Height)
	}

	bin, err := c.ffmpeg.Runtime(ctx)
	if err != nil {
		return err
	}

	var tried []string
	for _, format := range c.formats {
		tried = append(tried, format.Muxer+"/"+format.Codec)
		if !c.ffmpeg.supports(ctx, bin, "muxer", format.Muxer) || !c.ffmpeg.supports(ctx, bin, "encoder", format.Codec) {
			continue
		}
		return c.start(bin, settings, format)
	}

	return fmt.Errorf("tried %s: %w", strings.Join(tried, ", "), export.ErrNoCaptureFormat)
}

func (c *RawCapture) start(bin string, settings models.Settings, format CaptureFormat) error {
	c.path = filepath.Join(c.dir, "capture."+format.Ext)
	args := BuildCaptureArgs(settings, format, c.path)

	// The process outlives Begin's context; Abort stops it.
	cmd := exec.Command(bin, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	cmd.Stderr = &c.stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.settings = settings
	c.frames = 0
	c.logger.WithFields(map[string]interface{}{
		"muxer": format.Muxer,
		"codec": format.Codec,
		"path":  c.path,
	}).Debug("Capture started")

	return nil
}

func (c *RawCapture) WriteFrame(ctx context.Context, frame int, img image.Image) error {
	if c.cmd == nil {
		return fmt.Errorf("capture not started")
	}
	if frame != c.frames {
		return fmt.Errorf("expected frame %d, got %d", c.frames, frame)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := c.stdin.Write(c.pixels(img)); err != nil {
		return fmt.Errorf("failed to write frame %d: %w, stderr: %s", frame, err, tail(c.stderr.String(), 1024))
	}
	c.frames++
	return nil
}

// pixels returns img as tightly packed RGBA at the capture size
func (c *RawCapture) pixels(img image.Image) []byte {
	w, h := c.settings.Width, c.settings.Height
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect == image.Rect(0, 0, w, h) && rgba.Stride == 4*w {
		return rgba.Pix
	}

	if c.scratch == nil {
		c.scratch = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	draw.Draw(c.scratch, c.scratch.Bounds(), img, img.Bounds().Min, draw.Src)
	return c.scratch.Pix
}

func (c *RawCapture) Finish(ctx context.Context) (string, error) {
	if c.cmd == nil {
		return "", fmt.Errorf("capture not started")
	}

	if err := c.stdin.Close(); err != nil {
		return "", fmt.Errorf("failed to close capture input: %w", err)
	}
	err := c.cmd.Wait()
	c.cmd = nil
	if err != nil {
		return "", fmt.Errorf("capture failed: %w, stderr: %s", err, tail(c.stderr.String(), 2048))
	}

	return c.path, nil
}

func (c *RawCapture) Abort() error {
	if c.cmd == nil {
		return nil
	}

	c.stdin.Close()
	if c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
	c.cmd.Wait()
	c.cmd = nil

	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove partial capture: %w", err)
	}
	return nil
}

// BuildCaptureArgs returns the ffmpeg arguments that read raw RGBA frames from stdin
func BuildCaptureArgs(settings models.Settings, format CaptureFormat, path string) []string {
	return ffmpeg.Input("pipe:0", ffmpeg.KwArgs{
		"f":       "rawvideo",
		"pix_fmt": "rgba",
		"s":       fmt.Sprintf("%dx%d", settings.Width, settings.Height),
		"r":       formatFloat(settings.FPS),
	}).Output(path, ffmpeg.KwArgs{
		"f":   format.Muxer,
		"c:v": format.Codec,
	}).OverWriteOutput().GetArgs()
}

// supports reports whether the runtime knows the named muxer or encoder
func (f *FFmpeg) supports(ctx context.Context, bin, kind, name string) bool {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "-hide_banner", "-h", kind+"="+name)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return false
	}

	text := out.String()
	return !strings.Contains(text, "Unknown") && !strings.Contains(text, "is not recognized")
}
