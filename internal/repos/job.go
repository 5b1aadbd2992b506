package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sensemaker/backend/internal/logger"
	"github.com/sensemaker/backend/internal/types"
)

// JobRepo is the durable Job Store. It is the single source of truth for job
// state; everything the worker persists goes through it, and pollers read it
// whenever the progress channel is unavailable.
type JobRepo interface {
	// Create inserts a new QUEUED job row with progress 0. At most one
	// non-terminal job may exist per report; a colliding insert returns
	// ErrConflict (backed by a partial unique index, so the check holds
	// across concurrent submitters and processes).
	Create(ctx context.Context, job *types.Job) (*types.Job, error)
	GetByID(ctx context.Context, id uuid.UUID) (*types.Job, error)
	// ActiveByReport returns the non-terminal job for a report, or nil.
	ActiveByReport(ctx context.Context, reportID uuid.UUID) (*types.Job, error)
	ListQueued(ctx context.Context, limit int) ([]*types.Job, error)
	ListRunning(ctx context.Context) ([]*types.Job, error)
	// ClaimNextRunnable leases the oldest runnable job for this worker slot.
	// Runnable means QUEUED and unleased, or a RUNNING row whose heartbeat
	// went stale (crashed worker) with attempts still below maxAttempts.
	// FAILED rows are terminal and never redelivered. Returns nil when the
	// queue is empty.
	ClaimNextRunnable(ctx context.Context, maxAttempts int, staleRunning time.Duration) (*types.Job, error)
	// Heartbeat refreshes the lease on a claimed job so executions longer
	// than the stale-running window are not reclaimed by another slot.
	// Returns ErrTerminal once the row is terminal.
	Heartbeat(ctx context.Context, id uuid.UUID) error
	// UpdateProgress applies the status-derivation rule in one atomic write:
	// errMsg present -> FAILED + completed_at; progress >= 100 -> COMPLETED +
	// completed_at; otherwise a QUEUED row is promoted to RUNNING with
	// started_at on its first checkpoint. Returns ErrTerminal if the row
	// already reached a terminal status.
	UpdateProgress(ctx context.Context, id uuid.UUID, stage types.JobStage, progress int, errMsg string) (*types.Job, error)
	// Complete is the terminal success write: COMPLETED, stage COMPLETE,
	// progress 100 and the result document, all in one update.
	Complete(ctx context.Context, id uuid.UUID, result datatypes.JSON) (*types.Job, error)
	// Cancel marks a QUEUED or RUNNING job CANCELLED with completed_at set.
	// Already-terminal jobs are returned unchanged.
	Cancel(ctx context.Context, id uuid.UUID) (*types.Job, error)
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{db: db, log: baseLog.With("repo", "JobRepo")}
}

func (r *jobRepo) Create(ctx context.Context, job *types.Job) (*types.Job, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.JobType == "" {
		job.JobType = types.JobTypeSensemaking
	}
	job.Status = types.JobStatusQueued
	job.Progress = 0
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return job, nil
}

func (r *jobRepo) GetByID(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	var job types.Job
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) ActiveByReport(ctx context.Context, reportID uuid.UUID) (*types.Job, error) {
	var job types.Job
	err := r.db.WithContext(ctx).
		Where("report_id = ? AND status IN ?", reportID, []types.JobStatus{types.JobStatusQueued, types.JobStatusRunning}).
		Order("created_at ASC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *jobRepo) ListQueued(ctx context.Context, limit int) ([]*types.Job, error) {
	var out []*types.Job
	q := r.db.WithContext(ctx).
		Where("status = ?", types.JobStatusQueued).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *jobRepo) ListRunning(ctx context.Context) ([]*types.Job, error) {
	var out []*types.Job
	err := r.db.WithContext(ctx).
		Where("status = ?", types.JobStatusRunning).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *jobRepo) ClaimNextRunnable(ctx context.Context, maxAttempts int, staleRunning time.Duration) (*types.Job, error) {
	now := time.Now()
	staleCutoff := now.Add(-staleRunning)
	var claimed *types.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job types.Job
		q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
				(
					status = ?
					AND (locked_at IS NULL OR heartbeat_at IS NULL OR heartbeat_at < ?)
					AND attempts < ?
				)
				OR (
					status = ?
					AND heartbeat_at IS NOT NULL
					AND heartbeat_at < ?
					AND attempts < ?
				)
			`, types.JobStatusQueued, staleCutoff, maxAttempts, types.JobStatusRunning, staleCutoff, maxAttempts).
			Order("created_at ASC")
		qErr := q.First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := tx.Model(&types.Job{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		job.Attempts++
		job.LockedAt = &now
		job.HeartbeatAt = &now
		job.UpdatedAt = now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRepo) Heartbeat(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&types.Job{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses()).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTerminal
	}
	return nil
}

func (r *jobRepo) UpdateProgress(ctx context.Context, id uuid.UUID, stage types.JobStage, progress int, errMsg string) (*types.Job, error) {
	now := time.Now()
	updates := map[string]interface{}{
		"stage":        stage,
		"heartbeat_at": now,
		"updated_at":   now,
	}
	switch {
	case errMsg != "":
		updates["status"] = types.JobStatusFailed
		updates["error"] = errMsg
		updates["progress"] = progress
		updates["completed_at"] = now
		updates["locked_at"] = nil
	case progress >= 100:
		updates["status"] = types.JobStatusCompleted
		updates["progress"] = 100
		updates["completed_at"] = now
		updates["locked_at"] = nil
	default:
		// First checkpoint of a claimed QUEUED job flips it to RUNNING.
		updates["status"] = gorm.Expr("CASE WHEN status = ? THEN ? ELSE status END",
			types.JobStatusQueued, types.JobStatusRunning)
		updates["started_at"] = gorm.Expr("COALESCE(started_at, ?)", now)
		// Progress never decreases even if a redelivered run replays a stage.
		updates["progress"] = gorm.Expr("CASE WHEN progress > ? THEN progress ELSE ? END",
			progress, progress)
	}
	return r.guardedUpdate(ctx, id, updates)
}

func (r *jobRepo) Complete(ctx context.Context, id uuid.UUID, result datatypes.JSON) (*types.Job, error) {
	now := time.Now()
	return r.guardedUpdate(ctx, id, map[string]interface{}{
		"status":       types.JobStatusCompleted,
		"stage":        types.JobStageComplete,
		"progress":     100,
		"error":        "",
		"result":       result,
		"completed_at": now,
		"locked_at":    nil,
		"heartbeat_at": now,
		"updated_at":   now,
	})
}

// guardedUpdate applies updates only while the row is non-terminal, so a
// concurrent cancellation is never overwritten.
func (r *jobRepo) guardedUpdate(ctx context.Context, id uuid.UUID, updates map[string]interface{}) (*types.Job, error) {
	res := r.db.WithContext(ctx).Model(&types.Job{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses()).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	job, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return job, ErrTerminal
	}
	return job, nil
}

func (r *jobRepo) Cancel(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&types.Job{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses()).
		Updates(map[string]interface{}{
			"status":       types.JobStatusCancelled,
			"completed_at": now,
			"locked_at":    nil,
			"updated_at":   now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	return r.GetByID(ctx, id)
}

func terminalStatuses() []types.JobStatus {
	return []types.JobStatus{
		types.JobStatusCompleted,
		types.JobStatusFailed,
		types.JobStatusCancelled,
	}
}
