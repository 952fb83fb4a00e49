package playback

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/cutroom/cutroom/pkg/models"
)

// Surface is the single composite target clips are drawn onto
type Surface interface {
	Bounds() image.Rectangle
	Clear(c color.Color)
	Draw(src image.Image, p Placement)
}

// Placement maps source pixels onto the surface
type Placement struct {
	Matrix f64.Aff3
	Alpha  float64
}

// Place computes the cover-fit placement of a srcW x srcH frame with the clip's transform.
// The frame fills the composition's shorter relative dimension and is cropped on the
// longer one, then scaled, rotated about its center and offset by (x-0.5, y-0.5) of the
// composition size.
func Place(settings models.Settings, srcW, srcH int, t models.TransformValue, opacity float64) Placement {
	W, H := float64(settings.Width), float64(settings.Height)
	sw, sh := float64(srcW), float64(srcH)
	if sw <= 0 || sh <= 0 {
		sw, sh = W, H
	}

	srcAspect := sw / sh
	var drawW, drawH float64
	if srcAspect/settings.Aspect() > 1 {
		drawH = H
		drawW = H * srcAspect
	} else {
		drawW = W
		drawH = W / srcAspect
	}

	scale := t.Scale
	if scale <= 0 {
		scale = 1
	}
	kx := drawW / sw * scale
	ky := drawH / sh * scale

	theta := t.Rotate * math.Pi / 180
	cos, sin := math.Cos(theta), math.Sin(theta)

	cx := W/2 + (t.X-0.5)*W
	cy := H/2 + (t.Y-0.5)*H

	a, b := cos*kx, -sin*ky
	d, e := sin*kx, cos*ky

	return Placement{
		Matrix: f64.Aff3{
			a, b, cx - a*sw/2 - b*sh/2,
			d, e, cy - d*sw/2 - e*sh/2,
		},
		Alpha: clamp01(opacity),
	}
}

// Apply maps a source point through the placement
func (p Placement) Apply(x, y float64) (float64, float64) {
	m := p.Matrix
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Compose clears the surface to the background and draws the active clips in order.
// Callers pass actives in ascending zIndex so the highest ends up on top.
func Compose(surface Surface, settings models.Settings, actives []Active) {
	surface.Clear(ParseColor(settings.BackgroundColor))

	for _, a := range actives {
		if a.Source == nil {
			continue
		}
		frame := a.Source.Frame()
		if frame == nil {
			continue
		}
		w, h := a.Meta.Width, a.Meta.Height
		if w <= 0 || h <= 0 {
			b := frame.Bounds()
			w, h = b.Dx(), b.Dy()
		}
		surface.Draw(frame, Place(settings, w, h, a.Transform, a.Clip.Opacity))
	}
}

// RGBASurface is an in-memory Surface
type RGBASurface struct {
	img *image.RGBA
}

// NewRGBASurface allocates a surface of the composition size
func NewRGBASurface(width, height int) *RGBASurface {
	return &RGBASurface{img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

func (s *RGBASurface) Bounds() image.Rectangle {
	return s.img.Bounds()
}

func (s *RGBASurface) Clear(c color.Color) {
	draw.Draw(s.img, s.img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}

func (s *RGBASurface) Draw(src image.Image, p Placement) {
	if p.Alpha <= 0 {
		return
	}

	var opts *draw.Options
	if p.Alpha < 1 {
		opts = &draw.Options{
			SrcMask: image.NewUniform(color.Alpha{A: uint8(math.Round(p.Alpha * 255))}),
		}
	}
	draw.ApproxBiLinear.Transform(s.img, p.Matrix, src, src.Bounds(), draw.Over, opts)
}

// Image returns the surface pixels
func (s *RGBASurface) Image() *image.RGBA {
	return s.img
}

// ParseColor parses #rgb or #rrggbb, falling back to opaque black
func ParseColor(hex string) color.RGBA {
	black := color.RGBA{A: 255}
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(hex) == 3 {
		hex = fmt.Sprintf("%c%c%c%c%c%c", hex[0], hex[0], hex[1], hex[1], hex[2], hex[2])
	}
	if len(hex) != 6 {
		return black
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return black
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
}
