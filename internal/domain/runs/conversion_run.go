package runs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusDuplicate RunStatus = "duplicate"
)

// ConversionRun records one handled notification. It never stores input rows.
// ClaimKey is unique while a run holds an object version; failed runs clear it
// so a redelivery can try again. Runs for unversioned objects carry no claim.
type ConversionRun struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	InputBucket     string         `gorm:"column:input_bucket;not null;index:idx_conversion_run_input" json:"input_bucket"`
	InputKey        string         `gorm:"column:input_key;not null;index:idx_conversion_run_input" json:"input_key"`
	InputGeneration int64          `gorm:"column:input_generation;not null;default:0" json:"input_generation,omitempty"`
	InputVersion    string         `gorm:"column:input_version" json:"input_version,omitempty"`
	Source          string         `gorm:"column:source" json:"source,omitempty"`
	ClaimKey        *string        `gorm:"column:claim_key;uniqueIndex" json:"-"`
	OutputBucket    string         `gorm:"column:output_bucket" json:"output_bucket,omitempty"`
	OutputKey       string         `gorm:"column:output_key" json:"output_key,omitempty"`
	ChartKey        string         `gorm:"column:chart_key" json:"chart_key,omitempty"`
	Status          RunStatus      `gorm:"column:status;not null;index" json:"status"`
	RowsRead        int            `gorm:"column:rows_read;not null;default:0" json:"rows_read"`
	RowsUsed        int            `gorm:"column:rows_used;not null;default:0" json:"rows_used"`
	RowsSkipped     int            `gorm:"column:rows_skipped;not null;default:0" json:"rows_skipped"`
	Groups          int            `gorm:"column:group_count;not null;default:0" json:"groups"`
	Error           string         `gorm:"column:error" json:"error,omitempty"`
	TraceID         string         `gorm:"column:trace_id;index" json:"trace_id,omitempty"`
	Stats           datatypes.JSON `gorm:"column:stats" json:"stats,omitempty"`
	StartedAt       time.Time      `gorm:"column:started_at;not null;index" json:"started_at"`
	FinishedAt      *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null" json:"updated_at"`
}

func (ConversionRun) TableName() string { return "conversion_run" }

func (r *ConversionRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	return nil
}

// Terminal reports whether the run will not change status again.
func (r *ConversionRun) Terminal() bool {
	switch r.Status {
	case RunStatusSucceeded, RunStatusFailed, RunStatusDuplicate:
		return true
	}
	return false
}
