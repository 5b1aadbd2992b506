package pipeline

import (
	"context"
	"encoding/json"

	"github.com/sensemaker/backend/internal/types"
)

// Source hands the pipeline the raw CSV bytes for a job. Fetching from
// object storage is the upload service's concern; the worker only sees
// already-resolvable content.
type Source interface {
	Fetch(ctx context.Context, job *types.Job) ([]byte, error)
}

// PayloadSource reads inline CSV content from the job payload. It is the
// seam a bucket-backed Source replaces in deployments where uploads live in
// object storage.
type PayloadSource struct{}

func NewPayloadSource() *PayloadSource { return &PayloadSource{} }

func (s *PayloadSource) Fetch(ctx context.Context, job *types.Job) ([]byte, error) {
	if len(job.Payload) == 0 {
		return nil, validationErrorf("job payload has no csv content")
	}
	var payload struct {
		CsvContent string `json:"csv_content"`
	}
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, validationErrorf("job payload is not valid json: %v", err)
	}
	if payload.CsvContent == "" {
		return nil, validationErrorf("job payload has no csv content")
	}
	return []byte(payload.CsvContent), nil
}
