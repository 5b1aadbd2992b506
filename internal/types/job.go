package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// IsTerminal reports whether a job in this status can never change again.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

type JobStage string

const (
	JobStageParsingCSV           JobStage = "PARSING_CSV"
	JobStageLearningTopics       JobStage = "LEARNING_TOPICS"
	JobStageCategorizingComments JobStage = "CATEGORIZING_COMMENTS"
	JobStageGeneratingSummary    JobStage = "GENERATING_SUMMARY"
	JobStageComplete             JobStage = "COMPLETE"
)

// JobTypeSensemaking is the only job type registered today; the worker
// registry keys on it so other pipelines can be added without touching the
// claim loop.
const JobTypeSensemaking = "sensemaking"

// Job is one processing_job row: a single pipeline execution tied to a report.
// The worker is the only writer after creation; rows are immutable once the
// status is terminal.
type Job struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ReportID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"report_id"`
	ProjectID   uuid.UUID      `gorm:"type:uuid;index" json:"project_id"`
	CsvUploadID *uuid.UUID     `gorm:"type:uuid" json:"csv_upload_id,omitempty"`
	JobType     string         `gorm:"column:job_type;not null;index" json:"job_type"`
	Status      JobStatus      `gorm:"column:status;not null;index" json:"status"`
	Stage       JobStage       `gorm:"column:stage;index" json:"stage,omitempty"`
	Progress    int            `gorm:"column:progress;not null;default:0" json:"progress"`
	Attempts    int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Error       string         `gorm:"column:error" json:"error,omitempty"`
	Payload     datatypes.JSON `gorm:"type:jsonb;column:payload" json:"payload,omitempty"`
	Result      datatypes.JSON `gorm:"type:jsonb;column:result" json:"result,omitempty"`
	LockedAt    *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	StartedAt   *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (Job) TableName() string { return "processing_job" }
