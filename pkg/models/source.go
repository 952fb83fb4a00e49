package models

import "time"

// SourceMeta describes a stored media source a clip can reference
type SourceMeta struct {
	ID             string    `json:"id" db:"id"`
	URL            string    `json:"url" db:"url"`
	Width          int       `json:"width" db:"width"`
	Height         int       `json:"height" db:"height"`
	FPS            float64   `json:"fps" db:"fps"`
	DurationFrames int       `json:"duration_frames" db:"duration_frames"`
	HasAudio       bool      `json:"has_audio" db:"has_audio"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Aspect returns width/height, or 1 when unknown
func (s SourceMeta) Aspect() float64 {
	if s.Width <= 0 || s.Height <= 0 {
		return 1
	}
	return float64(s.Width) / float64(s.Height)
}
