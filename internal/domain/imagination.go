package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// ImaginationStatus represents the lifecycle state of an imagination.
// Draft records move through init/queued/waiting/processing and end in one of
// the terminal states completed, error, or cancelled.
type ImaginationStatus string

const (
	StatusDraft      ImaginationStatus = "draft"
	StatusInit       ImaginationStatus = "init"
	StatusQueued     ImaginationStatus = "queued"
	StatusWaiting    ImaginationStatus = "waiting"
	StatusProcessing ImaginationStatus = "processing"
	StatusCompleted  ImaginationStatus = "completed"
	StatusError      ImaginationStatus = "error"
	StatusCancelled  ImaginationStatus = "cancelled"
)

// Done reports whether the status is terminal. Terminal records accept no
// further transitions; schedulers use this to stop rescheduling.
func (s ImaginationStatus) Done() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// TerminalStatuses returns the set of terminal states, in the form used by
// conditional status updates.
func TerminalStatuses() []ImaginationStatus {
	return []ImaginationStatus{StatusCompleted, StatusError, StatusCancelled}
}

// StatusFromProvider maps the generation engine's status vocabulary to the
// internal enum. Unrecognized values map to StatusError.
func StatusFromProvider(status string) ImaginationStatus {
	switch status {
	case "initialized":
		return StatusInit
	case "queue":
		return StatusQueued
	case "waiting":
		return StatusWaiting
	case "running":
		return StatusProcessing
	case "completed":
		return StatusCompleted
	default:
		return StatusError
	}
}

// ImaginationEngine identifies a generation backend.
type ImaginationEngine string

const (
	EngineMidjourney ImaginationEngine = "midjourney"
	EngineFlux       ImaginationEngine = "flux"
	EngineDalle      ImaginationEngine = "dalle"
	EngineLeonardo   ImaginationEngine = "leonardo"
)

// Engines lists every known generation backend.
func Engines() []ImaginationEngine {
	return []ImaginationEngine{EngineMidjourney, EngineFlux, EngineDalle, EngineLeonardo}
}

// Supported reports whether the engine is functionally implemented.
// Only Midjourney is wired to a client today.
func (e ImaginationEngine) Supported() bool {
	return e == EngineMidjourney
}

// ThumbnailURL returns the CDN thumbnail for the engine.
func (e ImaginationEngine) ThumbnailURL() string {
	return "https://cdn.imagina.dev/images/engines/" + string(e) + ".png"
}

// Price returns the per-request price tag shown to clients.
func (e ImaginationEngine) Price() float64 {
	return 0.1
}

// ModeImagine is the only generation mode currently accepted.
const ModeImagine = "imagine"

// ImagineResult is one published sub-image of a finished generation.
// Width and height describe the original, pre-crop image.
type ImagineResult struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// ImagineResults stores a result list as a JSON column.
type ImagineResults []ImagineResult

// Value implements driver.Valuer for database serialization.
func (r ImagineResults) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for database deserialization.
func (r *ImagineResults) Scan(value interface{}) error {
	if value == nil {
		*r = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan ImagineResults")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, r)
}

// StringArray is a custom type for storing string slices as JSON in the database.
type StringArray []string

// Value implements driver.Valuer for database serialization.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for database deserialization.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// JSONMap stores a free-form object as a JSON column.
type JSONMap map[string]interface{}

// Value implements driver.Valuer for database serialization.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for database deserialization.
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan JSONMap")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, m)
}

// Imagination represents one image-generation request and its current
// status, results, and retry metadata. Records are created in draft and are
// mutated exclusively by the lifecycle engine afterwards.
type Imagination struct {
	ID         string            `gorm:"type:text;primaryKey" json:"id"`
	BusinessID string            `gorm:"type:text;not null;index:idx_imaginations_owner" json:"business_id"`
	UserID     string            `gorm:"type:text;not null;index:idx_imaginations_owner" json:"user_id"`
	Prompt     string            `gorm:"type:text;not null" json:"prompt"`
	Context    JSONMap           `gorm:"type:text" json:"context,omitempty"`
	Engine     ImaginationEngine `gorm:"type:text;default:midjourney" json:"engine"`
	Mode       string            `gorm:"type:text;default:imagine" json:"mode"`
	Status     ImaginationStatus `gorm:"type:text;index:idx_imaginations_status;default:draft" json:"status"`
	Progress   int               `gorm:"default:-1" json:"progress"`
	Results    ImagineResults    `gorm:"type:text" json:"results"`
	RetryCount int               `gorm:"default:0" json:"retry_count"`
	TaskID     string            `gorm:"type:text" json:"task_id,omitempty"`
	Reports    StringArray       `gorm:"type:text" json:"reports,omitempty"`
	Error      string            `gorm:"type:text" json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// TableName returns the database table name for Imagination.
func (Imagination) TableName() string {
	return "imaginations"
}
