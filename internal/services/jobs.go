package services

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/sensemaker/backend/internal/logger"
	"github.com/sensemaker/backend/internal/repos"
	"github.com/sensemaker/backend/internal/types"
)

// ErrJobConflict rejects a submission while another job for the same report
// is still queued or running. Retry is a resubmission decision by the
// caller, never an automatic one.
var ErrJobConflict = errors.New("a job for this report is already queued or running")

type SubmitInput struct {
	ReportID    uuid.UUID
	CsvUploadID *uuid.UUID
	// CsvContent optionally inlines the source bytes into the job payload,
	// standing in for an object-storage download in local setups.
	CsvContent string
}

// JobService is the submission/status surface consumed by the HTTP layer.
// All job mutation after creation belongs to the worker.
type JobService struct {
	log     *logger.Logger
	jobs    repos.JobRepo
	reports repos.ReportRepo
}

func NewJobService(baseLog *logger.Logger, jobs repos.JobRepo, reports repos.ReportRepo) *JobService {
	return &JobService{
		log:     baseLog.With("service", "JobService"),
		jobs:    jobs,
		reports: reports,
	}
}

func (s *JobService) Submit(ctx context.Context, in SubmitInput) (*types.Job, error) {
	report, err := s.reports.GetByID(ctx, in.ReportID)
	if err != nil {
		return nil, err
	}

	active, err := s.jobs.ActiveByReport(ctx, in.ReportID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, ErrJobConflict
	}

	job := &types.Job{
		ReportID:    report.ID,
		ProjectID:   report.ProjectID,
		CsvUploadID: in.CsvUploadID,
		JobType:     types.JobTypeSensemaking,
	}
	if in.CsvContent != "" {
		raw, err := json.Marshal(map[string]string{"csv_content": in.CsvContent})
		if err != nil {
			return nil, err
		}
		job.Payload = datatypes.JSON(raw)
	}

	created, err := s.jobs.Create(ctx, job)
	if err != nil {
		// The store enforces one active job per report atomically; the
		// ActiveByReport check above only wins the friendly path.
		if errors.Is(err, repos.ErrConflict) {
			return nil, ErrJobConflict
		}
		return nil, err
	}
	s.log.Info("Job submitted", "job_id", created.ID, "report_id", report.ID)
	return created, nil
}

func (s *JobService) Get(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	return s.jobs.GetByID(ctx, id)
}

// Cancel is a no-op on already-terminal jobs; the current snapshot comes
// back either way.
func (s *JobService) Cancel(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	job, err := s.jobs.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	s.log.Info("Job cancel requested", "job_id", id, "status", job.Status)
	return job, nil
}

func (s *JobService) ListQueued(ctx context.Context, limit int) ([]*types.Job, error) {
	return s.jobs.ListQueued(ctx, limit)
}

func (s *JobService) ListRunning(ctx context.Context) ([]*types.Job, error) {
	return s.jobs.ListRunning(ctx)
}
