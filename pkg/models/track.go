package models

import (
	"encoding/json"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Channel names a keyframed clip property
type Channel string

const (
	ChannelTransform Channel = "transform"
	ChannelTrim      Channel = "trim"
)

// ParseChannel rejects channels other than transform and trim
func ParseChannel(s string) (Channel, error) {
	switch Channel(s) {
	case ChannelTransform, ChannelTrim:
		return Channel(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, s)
	}
}

// Interpolation controls how a keyframe value carries to the next one
type Interpolation string

const (
	InterpolationHold   Interpolation = "hold"
	InterpolationLinear Interpolation = "linear"
)

// KeyframeValue is the channel-specific value of a keyframe.
// Implemented only by TransformValue and TrimValue.
type KeyframeValue interface {
	Channel() Channel
	Validate() error
}

// TransformValue places a clip inside the composite frame.
// X and Y are normalized anchor positions (0.5 = centered), Rotate is in degrees.
type TransformValue struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Scale  float64 `json:"scale" yaml:"scale"`
	Rotate float64 `json:"rotate" yaml:"rotate"`
}

// IdentityTransform is a centered, unscaled, unrotated placement
func IdentityTransform() TransformValue {
	return TransformValue{X: 0.5, Y: 0.5, Scale: 1}
}

func (TransformValue) Channel() Channel { return ChannelTransform }

func (v TransformValue) Validate() error {
	return validation.ValidateStruct(&v,
		validation.Field(&v.Scale, validation.Required, validation.Min(0.0).Exclusive()),
	)
}

// TrimValue insets a clip's visible window, in frames, from each end of its slot
type TrimValue struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

func (TrimValue) Channel() Channel { return ChannelTrim }

func (v TrimValue) Validate() error {
	return validation.ValidateStruct(&v,
		validation.Field(&v.Start, validation.Min(0)),
		validation.Field(&v.End, validation.Min(0)),
	)
}

// Clamp enforces Start + End < slot, shrinking End before Start
func (v TrimValue) Clamp(slot int) TrimValue {
	if v.Start < 0 {
		v.Start = 0
	}
	if v.End < 0 {
		v.End = 0
	}
	if v.Start+v.End < slot {
		return v
	}
	v.End = slot - 1 - v.Start
	if v.End < 0 {
		v.End = 0
		v.Start = slot - 1
	}
	return v
}

// Keyframe is a single channel value at a frame
type Keyframe struct {
	Frame         int           `json:"frame"`
	Value         KeyframeValue `json:"value"`
	Interpolation Interpolation `json:"interpolation"`
}

// HoldKeyframe is the frame-0 hold keyframe used for static per-clip properties
func HoldKeyframe(v KeyframeValue) Keyframe {
	return Keyframe{Frame: 0, Value: v, Interpolation: InterpolationHold}
}

type rawKeyframe struct {
	Frame         int             `json:"frame"`
	Value         json.RawMessage `json:"value"`
	Interpolation Interpolation   `json:"interpolation"`
}

// DecodeKeyframes decodes a JSON keyframe list for the given channel
func DecodeKeyframes(channel Channel, data []byte) ([]Keyframe, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var raws []rawKeyframe
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("failed to decode keyframes: %w", err)
	}

	keyframes := make([]Keyframe, 0, len(raws))
	for _, raw := range raws {
		var value KeyframeValue
		switch channel {
		case ChannelTransform:
			v := IdentityTransform()
			if err := json.Unmarshal(raw.Value, &v); err != nil {
				return nil, fmt.Errorf("failed to decode transform value: %w", err)
			}
			value = v
		case ChannelTrim:
			var v TrimValue
			if err := json.Unmarshal(raw.Value, &v); err != nil {
				return nil, fmt.Errorf("failed to decode trim value: %w", err)
			}
			value = v
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
		}
		interp := raw.Interpolation
		if interp == "" {
			interp = InterpolationHold
		}
		keyframes = append(keyframes, Keyframe{Frame: raw.Frame, Value: value, Interpolation: interp})
	}

	return keyframes, nil
}

// ValidateKeyframes checks every value belongs to the channel and is valid
func ValidateKeyframes(channel Channel, keyframes []Keyframe) error {
	for i, kf := range keyframes {
		if kf.Value == nil {
			return fmt.Errorf("keyframe %d: missing value", i)
		}
		if kf.Value.Channel() != channel {
			return fmt.Errorf("keyframe %d: %s value on %s channel", i, kf.Value.Channel(), channel)
		}
		if err := kf.Value.Validate(); err != nil {
			return fmt.Errorf("keyframe %d: %w", i, err)
		}
	}
	return nil
}

// Track is a keyframe channel attached to a clip
type Track struct {
	ID            string     `json:"id" db:"id"`
	CompositionID string     `json:"composition_id" db:"composition_id"`
	ClipID        string     `json:"clip_id,omitempty" db:"clip_id"`
	Channel       Channel    `json:"channel" db:"channel"`
	Keyframes     []Keyframe `json:"keyframes" db:"keyframes"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// UnmarshalJSON decodes keyframe values according to the channel
func (t *Track) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID            string          `json:"id"`
		CompositionID string          `json:"composition_id"`
		ClipID        string          `json:"clip_id"`
		Channel       string          `json:"channel"`
		Keyframes     json.RawMessage `json:"keyframes"`
		UpdatedAt     time.Time       `json:"updated_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	channel, err := ParseChannel(raw.Channel)
	if err != nil {
		return err
	}

	keyframes, err := DecodeKeyframes(channel, raw.Keyframes)
	if err != nil {
		return err
	}

	*t = Track{
		ID:            raw.ID,
		CompositionID: raw.CompositionID,
		ClipID:        raw.ClipID,
		Channel:       channel,
		Keyframes:     keyframes,
		UpdatedAt:     raw.UpdatedAt,
	}
	return nil
}

// Transform returns the held transform value, or identity
func (t Track) Transform() TransformValue {
	if t.Channel == ChannelTransform && len(t.Keyframes) > 0 {
		if v, ok := t.Keyframes[0].Value.(TransformValue); ok {
			return v
		}
	}
	return IdentityTransform()
}

// Trim returns the held trim value, or no trim
func (t Track) Trim() TrimValue {
	if t.Channel == ChannelTrim && len(t.Keyframes) > 0 {
		if v, ok := t.Keyframes[0].Value.(TrimValue); ok {
			return v
		}
	}
	return TrimValue{}
}

// TrackUpsert creates a track, or replaces the keyframes of TrackID when set
type TrackUpsert struct {
	CompositionID string     `json:"composition_id"`
	TrackID       string     `json:"track_id,omitempty"`
	ClipID        string     `json:"clip_id,omitempty"`
	Channel       Channel    `json:"channel"`
	Keyframes     []Keyframe `json:"keyframes"`
}

// UnmarshalJSON decodes keyframe values according to the channel
func (u *TrackUpsert) UnmarshalJSON(data []byte) error {
	var raw struct {
		CompositionID string          `json:"composition_id"`
		TrackID       string          `json:"track_id"`
		ClipID        string          `json:"clip_id"`
		Channel       string          `json:"channel"`
		Keyframes     json.RawMessage `json:"keyframes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	channel, err := ParseChannel(raw.Channel)
	if err != nil {
		return err
	}

	keyframes, err := DecodeKeyframes(channel, raw.Keyframes)
	if err != nil {
		return err
	}

	*u = TrackUpsert{
		CompositionID: raw.CompositionID,
		TrackID:       raw.TrackID,
		ClipID:        raw.ClipID,
		Channel:       channel,
		Keyframes:     keyframes,
	}
	return nil
}

// Validate checks the channel and its keyframe values
func (u TrackUpsert) Validate() error {
	if _, err := ParseChannel(string(u.Channel)); err != nil {
		return err
	}
	if u.CompositionID == "" {
		return fmt.Errorf("composition_id: cannot be blank")
	}
	return ValidateKeyframes(u.Channel, u.Keyframes)
}

// TransformUpsert builds a single hold-keyframe transform upsert
func TransformUpsert(compositionID, trackID, clipID string, v TransformValue) TrackUpsert {
	return TrackUpsert{
		CompositionID: compositionID,
		TrackID:       trackID,
		ClipID:        clipID,
		Channel:       ChannelTransform,
		Keyframes:     []Keyframe{HoldKeyframe(v)},
	}
}

// TrimUpsert builds a single hold-keyframe trim upsert
func TrimUpsert(compositionID, trackID, clipID string, v TrimValue) TrackUpsert {
	return TrackUpsert{
		CompositionID: compositionID,
		TrackID:       trackID,
		ClipID:        clipID,
		Channel:       ChannelTrim,
		Keyframes:     []Keyframe{HoldKeyframe(v)},
	}
}
