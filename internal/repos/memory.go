package repos

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/sensemaker/backend/internal/types"
)

// MemoryJobRepo is an in-memory JobRepo with the same claim and guard
// semantics as the Postgres implementation. It backs tests and the
// single-process dev mode where no database is configured.
type MemoryJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*types.Job
}

func NewMemoryJobRepo() *MemoryJobRepo {
	return &MemoryJobRepo{jobs: make(map[uuid.UUID]*types.Job)}
}

func (r *MemoryJobRepo) Create(ctx context.Context, job *types.Job) (*types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Same one-active-job-per-report rule the partial unique index enforces
	// in Postgres; the mutex makes check and insert one atomic step.
	for _, existing := range r.jobs {
		if existing.ReportID == job.ReportID && !existing.Status.IsTerminal() {
			return nil, ErrConflict
		}
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.JobType == "" {
		job.JobType = types.JobTypeSensemaking
	}
	now := time.Now()
	job.Status = types.JobStatusQueued
	job.Progress = 0
	job.CreatedAt = now
	job.UpdatedAt = now
	cp := *job
	r.jobs[job.ID] = &cp
	return job, nil
}

func (r *MemoryJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (r *MemoryJobRepo) ActiveByReport(ctx context.Context, reportID uuid.UUID) (*types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *types.Job
	for _, job := range r.jobs {
		if job.ReportID != reportID || job.Status.IsTerminal() {
			continue
		}
		if found == nil || job.CreatedAt.Before(found.CreatedAt) {
			found = job
		}
	}
	if found == nil {
		return nil, nil
	}
	cp := *found
	return &cp, nil
}

func (r *MemoryJobRepo) ListQueued(ctx context.Context, limit int) ([]*types.Job, error) {
	return r.list(func(j *types.Job) bool { return j.Status == types.JobStatusQueued }, limit)
}

func (r *MemoryJobRepo) ListRunning(ctx context.Context) ([]*types.Job, error) {
	return r.list(func(j *types.Job) bool { return j.Status == types.JobStatusRunning }, 0)
}

func (r *MemoryJobRepo) list(keep func(*types.Job) bool, limit int) ([]*types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Job
	for _, job := range r.jobs {
		if keep(job) {
			cp := *job
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryJobRepo) ClaimNextRunnable(ctx context.Context, maxAttempts int, staleRunning time.Duration) (*types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	staleCutoff := now.Add(-staleRunning)

	var candidate *types.Job
	for _, job := range r.jobs {
		if !r.runnable(job, maxAttempts, staleCutoff) {
			continue
		}
		if candidate == nil || job.CreatedAt.Before(candidate.CreatedAt) {
			candidate = job
		}
	}
	if candidate == nil {
		return nil, nil
	}
	candidate.Attempts++
	candidate.LockedAt = &now
	candidate.HeartbeatAt = &now
	candidate.UpdatedAt = now
	cp := *candidate
	return &cp, nil
}

func (r *MemoryJobRepo) runnable(job *types.Job, maxAttempts int, staleCutoff time.Time) bool {
	if job.Attempts >= maxAttempts {
		return false
	}
	switch job.Status {
	case types.JobStatusQueued:
		return job.LockedAt == nil || job.HeartbeatAt == nil || job.HeartbeatAt.Before(staleCutoff)
	case types.JobStatusRunning:
		return job.HeartbeatAt != nil && job.HeartbeatAt.Before(staleCutoff)
	default:
		return false
	}
}

func (r *MemoryJobRepo) Heartbeat(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status.IsTerminal() {
		return ErrTerminal
	}
	now := time.Now()
	job.HeartbeatAt = &now
	job.UpdatedAt = now
	return nil
}

func (r *MemoryJobRepo) UpdateProgress(ctx context.Context, id uuid.UUID, stage types.JobStage, progress int, errMsg string) (*types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if job.Status.IsTerminal() {
		cp := *job
		return &cp, ErrTerminal
	}
	now := time.Now()
	job.Stage = stage
	job.HeartbeatAt = &now
	job.UpdatedAt = now
	switch {
	case errMsg != "":
		job.Status = types.JobStatusFailed
		job.Error = errMsg
		job.Progress = progress
		job.CompletedAt = &now
		job.LockedAt = nil
	case progress >= 100:
		job.Status = types.JobStatusCompleted
		job.Progress = 100
		job.CompletedAt = &now
		job.LockedAt = nil
	default:
		if job.Status == types.JobStatusQueued {
			job.Status = types.JobStatusRunning
		}
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
		if progress > job.Progress {
			job.Progress = progress
		}
	}
	cp := *job
	return &cp, nil
}

func (r *MemoryJobRepo) Complete(ctx context.Context, id uuid.UUID, result datatypes.JSON) (*types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if job.Status.IsTerminal() {
		cp := *job
		return &cp, ErrTerminal
	}
	now := time.Now()
	job.Status = types.JobStatusCompleted
	job.Stage = types.JobStageComplete
	job.Progress = 100
	job.Error = ""
	job.Result = result
	job.CompletedAt = &now
	job.LockedAt = nil
	job.HeartbeatAt = &now
	job.UpdatedAt = now
	cp := *job
	return &cp, nil
}

func (r *MemoryJobRepo) Cancel(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !job.Status.IsTerminal() {
		now := time.Now()
		job.Status = types.JobStatusCancelled
		job.CompletedAt = &now
		job.LockedAt = nil
		job.UpdatedAt = now
	}
	cp := *job
	return &cp, nil
}

// MemoryReportRepo implements ReportRepo over a map, plus Put for seeding.
type MemoryReportRepo struct {
	mu      sync.Mutex
	reports map[uuid.UUID]*types.Report
}

func NewMemoryReportRepo() *MemoryReportRepo {
	return &MemoryReportRepo{reports: make(map[uuid.UUID]*types.Report)}
}

// Put seeds a report row, standing in for the CRUD layer that owns creation.
func (r *MemoryReportRepo) Put(report *types.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}
	cp := *report
	r.reports[report.ID] = &cp
}

func (r *MemoryReportRepo) GetByID(ctx context.Context, id uuid.UUID) (*types.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	report, ok := r.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *report
	return &cp, nil
}

func (r *MemoryReportRepo) SetStatus(ctx context.Context, id uuid.UUID, status types.ReportStatus) error {
	return r.update(id, func(rep *types.Report) { rep.Status = status })
}

func (r *MemoryReportRepo) SetTopics(ctx context.Context, id uuid.UUID, topics datatypes.JSON) error {
	return r.update(id, func(rep *types.Report) { rep.Topics = topics })
}

func (r *MemoryReportRepo) SetOutput(ctx context.Context, id uuid.UUID, output datatypes.JSON) error {
	return r.update(id, func(rep *types.Report) { rep.Output = output })
}

func (r *MemoryReportRepo) update(id uuid.UUID, apply func(*types.Report)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	report, ok := r.reports[id]
	if !ok {
		return ErrNotFound
	}
	apply(report)
	report.UpdatedAt = time.Now()
	return nil
}

// MemoryCommentRepo implements CommentRepo over a per-report slice.
type MemoryCommentRepo struct {
	mu       sync.Mutex
	byReport map[uuid.UUID][]*types.Comment
}

func NewMemoryCommentRepo() *MemoryCommentRepo {
	return &MemoryCommentRepo{byReport: make(map[uuid.UUID][]*types.Comment)}
}

func (r *MemoryCommentRepo) ReplaceForReport(ctx context.Context, reportID uuid.UUID, comments []*types.Comment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := make([]*types.Comment, 0, len(comments))
	for _, c := range comments {
		cp := *c
		if cp.ID == uuid.Nil {
			cp.ID = uuid.New()
		}
		cp.ReportID = reportID
		stored = append(stored, &cp)
	}
	r.byReport[reportID] = stored
	return nil
}

func (r *MemoryCommentRepo) ListByReport(ctx context.Context, reportID uuid.UUID) ([]*types.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := r.byReport[reportID]
	out := make([]*types.Comment, 0, len(stored))
	for _, c := range stored {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (r *MemoryCommentRepo) CountByReport(ctx context.Context, reportID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.byReport[reportID])), nil
}
