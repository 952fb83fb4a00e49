package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Composition is the top-level timeline container
type Composition struct {
	ID        string    `json:"id" db:"id"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	Name      string    `json:"name" db:"name"`
	Settings  Settings  `json:"settings" db:"settings"`
	Version   int       `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Settings holds the global presentation settings of a composition
type Settings struct {
	Width           int     `json:"width" yaml:"width"`
	Height          int     `json:"height" yaml:"height"`
	FPS             float64 `json:"fps" yaml:"fps"`
	DurationFrames  int     `json:"duration_frames" yaml:"duration_frames"`
	BackgroundColor string  `json:"background_color" yaml:"background_color"`
}

// DefaultSettings returns 1080p30 settings with a 30 second duration
func DefaultSettings() Settings {
	return Settings{
		Width:           1920,
		Height:          1080,
		FPS:             30,
		DurationFrames:  900,
		BackgroundColor: "#000000",
	}
}

// Validate checks the settings are renderable
func (s Settings) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Width, validation.Required, validation.Min(2), validation.Max(8192)),
		validation.Field(&s.Height, validation.Required, validation.Min(2), validation.Max(8192)),
		validation.Field(&s.FPS, validation.Required, validation.Min(1.0), validation.Max(240.0)),
		validation.Field(&s.DurationFrames, validation.Required, validation.Min(1)),
		validation.Field(&s.BackgroundColor, is.HexColor),
	)
}

// Aspect returns width/height
func (s Settings) Aspect() float64 {
	if s.Height == 0 {
		return 1
	}
	return float64(s.Width) / float64(s.Height)
}

// DurationSeconds returns the total presentation time
func (s Settings) DurationSeconds() float64 {
	if s.FPS <= 0 {
		return 0
	}
	return float64(s.DurationFrames) / s.FPS
}

// FrameInterval returns the nominal wall-clock time of one frame
func (s Settings) FrameInterval() time.Duration {
	if s.FPS <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / s.FPS)
}

// Value implements driver.Valuer for database storage
func (s Settings) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner for database retrieval
func (s *Settings) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, s)
}
