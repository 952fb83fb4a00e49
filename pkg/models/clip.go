package models

import (
	"math"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// SpeedEpsilon is the smallest playback speed used when dividing by speed
const SpeedEpsilon = 1e-4

// Clip is a placed reference to a source media range on the timeline
type Clip struct {
	ID                 string    `json:"id" db:"id"`
	CompositionID      string    `json:"composition_id" db:"composition_id"`
	SourceMediaID      string    `json:"source_media_id" db:"source_media_id"`
	SourceInFrame      int       `json:"source_in_frame" db:"source_in_frame"`
	SourceOutFrame     int       `json:"source_out_frame" db:"source_out_frame"`
	TimelineStartFrame int       `json:"timeline_start_frame" db:"timeline_start_frame"`
	Speed              float64   `json:"speed" db:"speed"`
	Opacity            float64   `json:"opacity" db:"opacity"`
	ZIndex             int       `json:"z_index" db:"z_index"`
	Label              string    `json:"label" db:"label"`
	AudioEnabled       *bool     `json:"audio_enabled,omitempty" db:"audio_enabled"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// Validate checks the clip's source range and playback properties
func (c Clip) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.CompositionID, validation.Required),
		validation.Field(&c.SourceMediaID, validation.Required),
		validation.Field(&c.SourceInFrame, validation.Min(0)),
		validation.Field(&c.SourceOutFrame, validation.Required, validation.Min(c.SourceInFrame+1).Error("must be greater than source_in_frame")),
		validation.Field(&c.TimelineStartFrame, validation.Min(0)),
		validation.Field(&c.Speed, validation.Required, validation.Min(0.0).Exclusive()),
		validation.Field(&c.Opacity, validation.Min(0.0), validation.Max(1.0)),
	)
}

// HasAudio reports whether the clip participates in audio selection.
// A clip with no explicit setting is audible.
func (c Clip) HasAudio() bool {
	return c.AudioEnabled == nil || *c.AudioEnabled
}

func (c Clip) effectiveSpeed() float64 {
	return math.Max(c.Speed, SpeedEpsilon)
}

// SlotDuration is the clip's untrimmed length on the timeline, always >= 1
func (c Clip) SlotDuration() int {
	frames := int(math.Round(float64(c.SourceOutFrame-c.SourceInFrame) / c.effectiveSpeed()))
	if frames < 1 {
		return 1
	}
	return frames
}

// SlotEnd is the exclusive end frame of the untrimmed slot
func (c Clip) SlotEnd() int {
	return c.TimelineStartFrame + c.SlotDuration()
}

// VisibleWindow returns the half-open frame range in which the clip renders
func (c Clip) VisibleWindow(trim TrimValue) (start, end int) {
	trim = trim.Clamp(c.SlotDuration())
	return c.TimelineStartFrame + trim.Start, c.TimelineStartFrame + c.SlotDuration() - trim.End
}

// ContainsFrame reports whether a (fractional) frame falls inside the visible window
func (c Clip) ContainsFrame(trim TrimValue, frame float64) bool {
	start, end := c.VisibleWindow(trim)
	return frame >= float64(start) && frame < float64(end)
}

// SourceFrame maps a timeline position to a fractional source frame
func (c Clip) SourceFrame(trim TrimValue, playhead float64) float64 {
	trim = trim.Clamp(c.SlotDuration())
	start, _ := c.VisibleWindow(trim)
	offset := playhead - float64(start)
	speed := c.effectiveSpeed()
	return float64(c.SourceInFrame) + float64(trim.Start)*speed + offset*speed
}

// SourceSeconds maps a timeline position to a source media time
func (c Clip) SourceSeconds(trim TrimValue, playhead, sourceFPS float64) float64 {
	return c.SourceFrame(trim, playhead) / math.Max(1, sourceFPS)
}

// Interval returns the untrimmed timeline footprint used for lane layout
func (c Clip) Interval() (start, end int) {
	return c.TimelineStartFrame, c.SlotEnd()
}

// NewClip describes a clip to be added through the persistence collaborator
type NewClip struct {
	CompositionID      string   `json:"composition_id"`
	SourceMediaID      string   `json:"source_media_id"`
	SourceInFrame      int      `json:"source_in_frame"`
	SourceOutFrame     int      `json:"source_out_frame"`
	TimelineStartFrame int      `json:"timeline_start_frame"`
	Speed              *float64 `json:"speed,omitempty"`
	Opacity            *float64 `json:"opacity,omitempty"`
	Label              *string  `json:"label,omitempty"`
	ZIndex             *int     `json:"z_index,omitempty"`
	AudioEnabled       *bool    `json:"audio_enabled,omitempty"`
}

// Clip materializes the request with defaults applied
func (n NewClip) Clip() Clip {
	c := Clip{
		CompositionID:      n.CompositionID,
		SourceMediaID:      n.SourceMediaID,
		SourceInFrame:      n.SourceInFrame,
		SourceOutFrame:     n.SourceOutFrame,
		TimelineStartFrame: n.TimelineStartFrame,
		Speed:              1,
		Opacity:            1,
		AudioEnabled:       n.AudioEnabled,
	}
	if n.Speed != nil {
		c.Speed = *n.Speed
	}
	if n.Opacity != nil {
		c.Opacity = *n.Opacity
	}
	if n.Label != nil {
		c.Label = *n.Label
	}
	if n.ZIndex != nil {
		c.ZIndex = *n.ZIndex
	}
	return c
}

// Validate checks the request would produce a valid clip
func (n NewClip) Validate() error {
	return n.Clip().Validate()
}

// NewClipFrom builds an add request copying everything but placement from c
func NewClipFrom(c Clip) NewClip {
	speed, opacity, label, z := c.Speed, c.Opacity, c.Label, c.ZIndex
	return NewClip{
		CompositionID:      c.CompositionID,
		SourceMediaID:      c.SourceMediaID,
		SourceInFrame:      c.SourceInFrame,
		SourceOutFrame:     c.SourceOutFrame,
		TimelineStartFrame: c.TimelineStartFrame,
		Speed:              &speed,
		Opacity:            &opacity,
		Label:              &label,
		ZIndex:             &z,
		AudioEnabled:       c.AudioEnabled,
	}
}

// ClipPatch is a partial update of clip fields
type ClipPatch struct {
	SourceInFrame      *int     `json:"source_in_frame,omitempty"`
	SourceOutFrame     *int     `json:"source_out_frame,omitempty"`
	TimelineStartFrame *int     `json:"timeline_start_frame,omitempty"`
	Speed              *float64 `json:"speed,omitempty"`
	Opacity            *float64 `json:"opacity,omitempty"`
	ZIndex             *int     `json:"z_index,omitempty"`
	Label              *string  `json:"label,omitempty"`
	AudioEnabled       *bool    `json:"audio_enabled,omitempty"`
}

// IsEmpty reports whether the patch changes nothing
func (p ClipPatch) IsEmpty() bool {
	return p.SourceInFrame == nil && p.SourceOutFrame == nil && p.TimelineStartFrame == nil &&
		p.Speed == nil && p.Opacity == nil && p.ZIndex == nil && p.Label == nil && p.AudioEnabled == nil
}

// Apply returns c with the patch applied
func (p ClipPatch) Apply(c Clip) Clip {
	if p.SourceInFrame != nil {
		c.SourceInFrame = *p.SourceInFrame
	}
	if p.SourceOutFrame != nil {
		c.SourceOutFrame = *p.SourceOutFrame
	}
	if p.TimelineStartFrame != nil {
		c.TimelineStartFrame = *p.TimelineStartFrame
	}
	if p.Speed != nil {
		c.Speed = *p.Speed
	}
	if p.Opacity != nil {
		c.Opacity = *p.Opacity
	}
	if p.ZIndex != nil {
		c.ZIndex = *p.ZIndex
	}
	if p.Label != nil {
		c.Label = *p.Label
	}
	if p.AudioEnabled != nil {
		v := *p.AudioEnabled
		c.AudioEnabled = &v
	}
	return c
}

// Merge overlays q on top of p
func (p ClipPatch) Merge(q ClipPatch) ClipPatch {
	if q.SourceInFrame != nil {
		p.SourceInFrame = q.SourceInFrame
	}
	if q.SourceOutFrame != nil {
		p.SourceOutFrame = q.SourceOutFrame
	}
	if q.TimelineStartFrame != nil {
		p.TimelineStartFrame = q.TimelineStartFrame
	}
	if q.Speed != nil {
		p.Speed = q.Speed
	}
	if q.Opacity != nil {
		p.Opacity = q.Opacity
	}
	if q.ZIndex != nil {
		p.ZIndex = q.ZIndex
	}
	if q.Label != nil {
		p.Label = q.Label
	}
	if q.AudioEnabled != nil {
		p.AudioEnabled = q.AudioEnabled
	}
	return p
}

// Matches reports whether every field set in the patch already holds in c
func (p ClipPatch) Matches(c Clip) bool {
	applied := p.Apply(c)
	return applied.SourceInFrame == c.SourceInFrame &&
		applied.SourceOutFrame == c.SourceOutFrame &&
		applied.TimelineStartFrame == c.TimelineStartFrame &&
		applied.Speed == c.Speed &&
		applied.Opacity == c.Opacity &&
		applied.ZIndex == c.ZIndex &&
		applied.Label == c.Label &&
		applied.HasAudio() == c.HasAudio()
}

// Validate checks the patched clip would still be valid
func (p ClipPatch) Validate(current Clip) error {
	return p.Apply(current).Validate()
}

// IntPtr, FloatPtr, StringPtr and BoolPtr help build patches
func IntPtr(v int) *int { return &v }

func FloatPtr(v float64) *float64 { return &v }

func StringPtr(v string) *string { return &v }

func BoolPtr(v bool) *bool { return &v }
