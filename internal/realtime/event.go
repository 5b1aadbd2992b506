package realtime

import (
	"time"

	"github.com/google/uuid"
)

// ProgressEvent is the transient notification payload broadcast for every
// job store write. It is never persisted; pollers reconstruct the same view
// from the job row.
type ProgressEvent struct {
	JobID     uuid.UUID `json:"jobId"`
	Stage     string    `json:"stage"`
	Progress  int       `json:"progress"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Terminal reports whether this event ends a job's stream: either the
// pipeline finished (progress 100) or it failed (error set).
func (e ProgressEvent) Terminal() bool {
	return e.Progress >= 100 || e.Error != ""
}
