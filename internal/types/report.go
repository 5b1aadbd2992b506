package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ReportStatus string

const (
	ReportStatusPending    ReportStatus = "PENDING"
	ReportStatusProcessing ReportStatus = "PROCESSING"
	ReportStatusCompleted  ReportStatus = "COMPLETED"
	ReportStatusFailed     ReportStatus = "FAILED"
)

// Report rows are owned by the CRUD layer; the worker writes only Status,
// Topics and Output through the narrow repos.ReportRepo contract.
type Report struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID uuid.UUID      `gorm:"type:uuid;not null;index" json:"project_id"`
	Name      string         `gorm:"column:name;not null" json:"name"`
	Status    ReportStatus   `gorm:"column:status;not null;index" json:"status"`
	Topics    datatypes.JSON `gorm:"type:jsonb;column:topics" json:"topics,omitempty"`
	Output    datatypes.JSON `gorm:"type:jsonb;column:output_json" json:"output_json,omitempty"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
}

func (Report) TableName() string { return "report" }
