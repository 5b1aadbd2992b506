package types

import (
	"time"

	"github.com/google/uuid"
)

type CsvUploadStatus string

const (
	CsvUploadStatusPending   CsvUploadStatus = "PENDING"
	CsvUploadStatusValidated CsvUploadStatus = "VALIDATED"
	CsvUploadStatusInvalid   CsvUploadStatus = "INVALID"
)

// CsvUpload records an uploaded source file. The bytes themselves live in
// object storage under StorageKey; fetching them is the upload service's
// concern, not the pipeline's.
type CsvUpload struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID        uuid.UUID       `gorm:"type:uuid;not null;index" json:"project_id"`
	Filename         string          `gorm:"column:filename;not null" json:"filename"`
	OriginalFilename string          `gorm:"column:original_filename" json:"original_filename,omitempty"`
	StorageKey       string          `gorm:"column:storage_key" json:"storage_key,omitempty"`
	RowCount         int             `gorm:"column:row_count;not null;default:0" json:"row_count"`
	FileSize         int64           `gorm:"column:file_size;not null;default:0" json:"file_size"`
	Status           CsvUploadStatus `gorm:"column:status;not null" json:"status"`
	ValidationError  string          `gorm:"column:validation_error" json:"validation_error,omitempty"`
	CreatedAt        time.Time       `gorm:"not null" json:"created_at"`
}

func (CsvUpload) TableName() string { return "csv_upload" }
