package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"

	"github.com/sensemaker/backend/internal/logger"
	"github.com/sensemaker/backend/internal/realtime"
	"github.com/sensemaker/backend/internal/repos"
	"github.com/sensemaker/backend/internal/types"
)

// ErrHalted is returned by Execution writes when the job reached a terminal
// status underneath the pipeline, which happens exactly when someone
// cancelled it. Pipelines treat it as a stop signal, not a failure.
var ErrHalted = errors.New("job halted: terminal status reached")

// Execution is the capability handle a pipeline gets for one claimed job.
// It is the only sanctioned way to report progress or terminate the run, and
// it enforces two contracts the rest of the system depends on:
//
//   - every store write is guarded so a concurrent cancellation is never
//     overwritten (ErrHalted comes back instead), and
//   - the progress event is published only after the store write commits,
//     so a subscriber never observes state a poller could not.
type Execution struct {
	ctx     context.Context
	log     *logger.Logger
	repo    repos.JobRepo
	channel realtime.Channel
	job     *types.Job
}

func NewExecution(ctx context.Context, log *logger.Logger, repo repos.JobRepo, channel realtime.Channel, job *types.Job) *Execution {
	return &Execution{
		ctx:     ctx,
		log:     log.With("job_id", job.ID, "job_type", job.JobType),
		repo:    repo,
		channel: channel,
		job:     job,
	}
}

func (e *Execution) Context() context.Context { return e.ctx }

func (e *Execution) Job() *types.Job { return e.job }

// Progress records a stage checkpoint. Pipelines call it at every stage
// entry, which doubles as the cooperative cancellation check: a cancelled
// job surfaces as ErrHalted here and the pipeline unwinds.
func (e *Execution) Progress(stage types.JobStage, progress int) error {
	job, err := e.repo.UpdateProgress(e.ctx, e.job.ID, stage, progress, "")
	if errors.Is(err, repos.ErrTerminal) {
		if job != nil {
			e.job = job
		}
		return ErrHalted
	}
	if err != nil {
		return err
	}
	e.job = job
	e.publish(stage, job.Progress, "")
	return nil
}

// Fail marks the job terminally failed with the error message verbatim.
// A cancellation that won the race is left untouched.
func (e *Execution) Fail(stage types.JobStage, failErr error) {
	msg := "unknown error"
	if failErr != nil {
		msg = failErr.Error()
	}
	job, err := e.repo.UpdateProgress(e.ctx, e.job.ID, stage, e.job.Progress, msg)
	if errors.Is(err, repos.ErrTerminal) {
		return
	}
	if err != nil {
		e.log.Error("Failed to persist job failure", "stage", stage, "error", err)
		return
	}
	e.job = job
	e.log.Warn("Job failed", "stage", stage, "error", msg)
	e.publish(stage, job.Progress, msg)
}

// Succeed is the terminal success write: COMPLETED, progress 100 and the
// result document in one atomic update, then the terminal event.
func (e *Execution) Succeed(result any) error {
	var res datatypes.JSON
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return err
		}
		res = datatypes.JSON(raw)
	}
	job, err := e.repo.Complete(e.ctx, e.job.ID, res)
	if errors.Is(err, repos.ErrTerminal) {
		if job != nil {
			e.job = job
		}
		return ErrHalted
	}
	if err != nil {
		return err
	}
	e.job = job
	e.publish(types.JobStageComplete, 100, "")
	return nil
}

// publish is best-effort: a down transport degrades clients to polling, it
// never fails the run.
func (e *Execution) publish(stage types.JobStage, progress int, errMsg string) {
	if e.channel == nil {
		return
	}
	err := e.channel.Publish(e.ctx, realtime.ProgressEvent{
		JobID:     e.job.ID,
		Stage:     string(stage),
		Progress:  progress,
		Error:     errMsg,
		Timestamp: time.Now(),
	})
	if err != nil {
		e.log.Warn("Failed to publish progress event", "stage", stage, "error", err)
	}
}
