package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sensemaker/backend/internal/jobs"
	"github.com/sensemaker/backend/internal/logger"
	"github.com/sensemaker/backend/internal/realtime"
	"github.com/sensemaker/backend/internal/repos"
)

type Config struct {
	// Concurrency is the number of worker slots; each executes at most one
	// job at a time.
	Concurrency int
	// PollInterval is the dequeue wait between claim attempts.
	PollInterval time.Duration
	// MaxAttempts bounds redelivery of crashed executions.
	MaxAttempts int
	// StaleRunning is how long a claimed job may go without a heartbeat
	// before another slot may reclaim it.
	StaleRunning time.Duration
	// HeartbeatInterval is how often the lease is refreshed while a handler
	// runs, so stages longer than StaleRunning are not reclaimed mid-flight.
	HeartbeatInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 5
	}
	if c.StaleRunning <= 0 {
		c.StaleRunning = 2 * time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = c.StaleRunning / 4
	}
	return c
}

// Worker is the job runner: a bounded pool of claim loops over the durable
// queue. A failing job never takes a slot down; errors are caught per job.
type Worker struct {
	log      *logger.Logger
	repo     repos.JobRepo
	channel  realtime.Channel
	registry *Registry
	cfg      Config
}

func New(baseLog *logger.Logger, repo repos.JobRepo, channel realtime.Channel, registry *Registry, cfg Config) *Worker {
	return &Worker{
		log:      baseLog.With("component", "JobWorker"),
		repo:     repo,
		channel:  channel,
		registry: registry,
		cfg:      cfg.withDefaults(),
	}
}

// Run blocks until ctx is cancelled, supervising all worker slots.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Starting job worker pool", "concurrency", w.cfg.Concurrency)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		slotID := i + 1
		g.Go(func() error {
			w.runLoop(ctx, slotID)
			return nil
		})
	}
	return g.Wait()
}

// Start runs the pool in the background, for processes that embed the
// worker next to an HTTP server.
func (w *Worker) Start(ctx context.Context) {
	go func() { _ = w.Run(ctx) }()
}

func (w *Worker) runLoop(ctx context.Context, slotID int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker slot stopped", "slot", slotID)
			return
		case <-ticker.C:
			job, err := w.repo.ClaimNextRunnable(ctx, w.cfg.MaxAttempts, w.cfg.StaleRunning)
			if err != nil {
				w.log.Warn("ClaimNextRunnable failed", "slot", slotID, "error", err)
				continue
			}
			if job == nil {
				continue
			}
			w.execute(ctx, slotID, jobs.NewExecution(ctx, w.log, w.repo, w.channel, job))
		}
	}
}

func (w *Worker) execute(ctx context.Context, slotID int, ec *jobs.Execution) {
	job := ec.Job()
	h, ok := w.registry.Get(job.JobType)
	if !ok {
		w.log.Warn("No handler registered for job_type",
			"slot", slotID, "job_type", job.JobType, "job_id", job.ID)
		ec.Fail(job.Stage, &missingHandlerError{JobType: job.JobType})
		return
	}

	w.log.Info("Processing job", "slot", slotID, "job_id", job.ID, "job_type", job.JobType)

	// Keep the lease fresh for the whole execution; stage checkpoints alone
	// cannot outpace StaleRunning when a single stage runs long.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeatLoop(hbCtx, job.ID)

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Job handler panic",
				"slot", slotID, "job_id", job.ID, "job_type", job.JobType, "panic", r)
			ec.Fail(ec.Job().Stage, errFromRecover(r))
		}
	}()

	if runErr := h.Run(ec); runErr != nil {
		// Handlers mark their own failures; this is the safety net.
		ec.Fail(ec.Job().Stage, runErr)
	}
}

func (w *Worker) heartbeatLoop(ctx context.Context, jobID uuid.UUID) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.repo.Heartbeat(ctx, jobID)
			if errors.Is(err, repos.ErrTerminal) {
				return
			}
			if err != nil && ctx.Err() == nil {
				w.log.Warn("Heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string {
	return "no handler registered for job_type=" + e.JobType
}

func errFromRecover(v any) error { return fmt.Errorf("panic: %v", v) }
