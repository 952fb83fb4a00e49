package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ExportJob is a request to render a composition into a finished media file
type ExportJob struct {
	ID            string       `json:"id" db:"id"`
	JobID         string       `json:"job_id" db:"job_id"`
	CompositionID string       `json:"composition_id" db:"composition_id"`
	Status        string       `json:"status" db:"status"`
	Progress      float64      `json:"progress" db:"progress"`
	ErrorMsg      string       `json:"error_msg,omitempty" db:"error_msg"`
	URL           string       `json:"url,omitempty" db:"url"`
	Format        ExportFormat `json:"format" db:"format"`
	StartedAt     *time.Time   `json:"started_at,omitempty" db:"started_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at" db:"updated_at"`
}

// ExportFormat holds the target container and encoder controls
type ExportFormat struct {
	Container string `json:"container,omitempty"`
	Codec     string `json:"codec,omitempty"`
	Bitrate   int64  `json:"bitrate,omitempty"`
	CRF       int    `json:"crf,omitempty"`
	Preset    string `json:"preset,omitempty"`
}

// WithDefaults fills unset fields from def
func (f ExportFormat) WithDefaults(def ExportFormat) ExportFormat {
	if f.Container == "" {
		f.Container = def.Container
	}
	if f.Codec == "" {
		f.Codec = def.Codec
	}
	if f.Bitrate == 0 {
		f.Bitrate = def.Bitrate
	}
	if f.CRF == 0 {
		f.CRF = def.CRF
	}
	if f.Preset == "" {
		f.Preset = def.Preset
	}
	return f
}

// Containers lists the output containers an export can target
var Containers = []interface{}{"mp4", "mov", "mkv", "webm"}

// Validate checks the format can be finalized. Empty fields are filled from defaults later.
func (f ExportFormat) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Container, validation.In(Containers...)),
		validation.Field(&f.Bitrate, validation.Min(int64(0))),
		validation.Field(&f.CRF, validation.Min(0), validation.Max(51)),
	)
}

// Value implements driver.Valuer for database storage
func (f ExportFormat) Value() (driver.Value, error) {
	return json.Marshal(f)
}

// Scan implements sql.Scanner for database retrieval
func (f *ExportFormat) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, f)
}

// QueuedExport is returned when an export is queued
type QueuedExport struct {
	ExportID string `json:"export_id"`
	JobID    string `json:"job_id"`
}

// ExportStatus constants.
// Transitions are queued -> processing -> done | failed; there is no retry back to queued.
const (
	ExportStatusQueued     = "queued"
	ExportStatusProcessing = "processing"
	ExportStatusDone       = "done"
	ExportStatusFailed     = "failed"
)

// Export lifecycle events published to notifiers
const (
	ExportEventStarted   = "export.started"
	ExportEventCompleted = "export.completed"
	ExportEventFailed    = "export.failed"
)

// IsTerminal reports whether the export has finished
func (e ExportJob) IsTerminal() bool {
	return e.Status == ExportStatusDone || e.Status == ExportStatusFailed
}
