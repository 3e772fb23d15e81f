package datastore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status is the lifecycle state of a video job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions happen from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Stage is the step a processing job is currently in.
type Stage string

const (
	StageQueued            Stage = "queued"
	StageExtractingFrames  Stage = "extracting_frames"
	StageTranscribingAudio Stage = "transcribing_audio"
	StageDetectingEntities Stage = "detecting_entities"
	StageAggregatingReport Stage = "aggregating_report"
	StageIndexingSearch    Stage = "indexing_search"
	StageCompleted         Stage = "completed"
	StageFailed            Stage = "failed"
)

// Video is one uploaded video and the state of its processing job.
type Video struct {
	ID           string `gorm:"primaryKey;size:36" json:"id"`
	Filename     string `gorm:"size:255;not null" json:"filename"`
	OriginalPath string `gorm:"size:1024" json:"original_path"`
	VoicePath    string `gorm:"size:1024" json:"voice_path,omitempty"`

	Status       Status  `gorm:"size:16;index;not null;default:queued" json:"status"`
	CurrentStage Stage   `gorm:"size:32;not null;default:queued" json:"current_stage"`
	Progress     float64 `gorm:"not null;default:0" json:"progress"`

	IntervalSec    int     `gorm:"not null;default:5" json:"interval_sec"`
	DurationSec    float64 `json:"duration_sec"`
	FramesAnalyzed int     `json:"frames_analyzed"`
	UniqueEntities int     `json:"unique_entities"`
	EntitiesJSON   string  `gorm:"type:text" json:"-"`

	FramesPath     string `gorm:"size:1024" json:"frames_path,omitempty"`
	ReportPath     string `gorm:"size:1024" json:"report_path,omitempty"`
	TranscriptPath string `gorm:"size:1024" json:"transcript_path,omitempty"`

	Error string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns a UUID when the caller did not.
func (v *Video) BeforeCreate(_ *gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Status == "" {
		v.Status = StatusQueued
	}
	if v.CurrentStage == "" {
		v.CurrentStage = StageQueued
	}
	return nil
}

// Fields is a partial update keyed by column name.
type Fields map[string]any

// Column names accepted by Update.
const (
	ColStatus         = "status"
	ColStage          = "current_stage"
	ColProgress       = "progress"
	ColDurationSec    = "duration_sec"
	ColFramesAnalyzed = "frames_analyzed"
	ColUniqueEntities = "unique_entities"
	ColEntitiesJSON   = "entities_json"
	ColFramesPath     = "frames_path"
	ColReportPath     = "report_path"
	ColTranscriptPath = "transcript_path"
	ColError          = "error"
)

// ListOptions selects a page of videos. Zero Page and PageSize use the
// defaults; an empty Status lists every video.
type ListOptions struct {
	Status   Status
	Page     int
	PageSize int
}

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

func (o ListOptions) normalized() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PageSize < 1 {
		o.PageSize = defaultPageSize
	}
	o.PageSize = min(o.PageSize, maxPageSize)
	return o
}

// Page is one page of a video listing.
type Page struct {
	Items    []Video `json:"items"`
	Total    int64   `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
}
