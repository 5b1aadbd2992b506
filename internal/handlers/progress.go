package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sensemaker/backend/internal/logger"
	"github.com/sensemaker/backend/internal/realtime"
	"github.com/sensemaker/backend/internal/repos"
	"github.com/sensemaker/backend/internal/services"
	"github.com/sensemaker/backend/internal/types"
)

const (
	heartbeatInterval = 15 * time.Second
	pollInterval      = 2 * time.Second
)

// ProgressHandler streams job progress over SSE. When the realtime channel
// is up, events arrive via pub/sub; when it is down, the handler degrades
// to polling the job store every pollInterval.
type ProgressHandler struct {
	log     *logger.Logger
	jobs    *services.JobService
	channel realtime.Channel
	poll    time.Duration
}

func NewProgressHandler(baseLog *logger.Logger, jobs *services.JobService, channel realtime.Channel) *ProgressHandler {
	return &ProgressHandler{
		log:     baseLog.With("handler", "ProgressHandler"),
		jobs:    jobs,
		channel: channel,
		poll:    pollInterval,
	}
}

// GET /api/jobs/:id/progress
func (h *ProgressHandler) StreamJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, repos.ErrNotFound) {
			RespondError(c, http.StatusNotFound, "job_not_found", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "job_lookup_failed", err)
		return
	}

	flusher, ok := h.startStream(c)
	if !ok {
		return
	}

	// Subscribe first, then re-read the snapshot: anything written between
	// the subscription and the read arrives on the stream, and the snapshot
	// itself is never older than the subscription.
	if h.channel.Available() {
		events, cancel := h.channel.Subscribe(jobID)
		defer cancel()

		if fresh, err := h.jobs.Get(c.Request.Context(), jobID); err == nil {
			job = fresh
		}
		h.writeEvent(c, flusher, snapshotEvent(job))
		if job.Status.IsTerminal() {
			return
		}
		h.streamLive(c, flusher, jobID, events)
		return
	}

	h.writeEvent(c, flusher, snapshotEvent(job))
	if job.Status.IsTerminal() {
		return
	}
	h.streamPolling(c, flusher, jobID, job)
}

// GET /api/jobs/all/progress
func (h *ProgressHandler) StreamAll(c *gin.Context) {
	if !h.channel.Available() {
		RespondError(c, http.StatusServiceUnavailable, "progress_unavailable",
			errors.New("realtime channel is unavailable"))
		return
	}

	flusher, ok := h.startStream(c)
	if !ok {
		return
	}
	events, cancel := h.channel.Subscribe(uuid.Nil)
	defer cancel()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			h.writePing(c, flusher)
		case ev, open := <-events:
			if !open {
				return
			}
			h.writeEvent(c, flusher, ev)
		}
	}
}

func (h *ProgressHandler) streamLive(c *gin.Context, flusher http.Flusher, jobID uuid.UUID, events <-chan realtime.ProgressEvent) {
	ctx := c.Request.Context()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			// Cancellation terminates a job without publishing, so
			// recheck the store alongside the keep-alive.
			if job, err := h.jobs.Get(ctx, jobID); err == nil && job.Status.IsTerminal() {
				h.writeEvent(c, flusher, snapshotEvent(job))
				return
			}
			h.writePing(c, flusher)
		case ev, open := <-events:
			if !open {
				return
			}
			h.writeEvent(c, flusher, ev)
			if ev.Terminal() {
				return
			}
		}
	}
}

func (h *ProgressHandler) streamPolling(c *gin.Context, flusher http.Flusher, jobID uuid.UUID, last *types.Job) {
	ctx := c.Request.Context()
	poll := time.NewTicker(h.poll)
	defer poll.Stop()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			h.writePing(c, flusher)
		case <-poll.C:
			job, err := h.jobs.Get(ctx, jobID)
			if err != nil {
				h.log.Warn("Progress poll failed", "job_id", jobID, "error", err)
				continue
			}
			if jobChanged(last, job) {
				h.writeEvent(c, flusher, snapshotEvent(job))
				last = job
			}
			if job.Status.IsTerminal() {
				return
			}
		}
	}
}

func (h *ProgressHandler) startStream(c *gin.Context) (http.Flusher, bool) {
	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		RespondError(c, http.StatusInternalServerError, "streaming_unsupported",
			errors.New("response writer does not support streaming"))
		return nil, false
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

func (h *ProgressHandler) writeEvent(c *gin.Context, flusher http.Flusher, ev realtime.ProgressEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn("Failed to marshal progress event", "error", err)
		return
	}
	fmt.Fprintf(c.Writer, "event: progress\ndata: %s\n\n", raw)
	flusher.Flush()
}

func (h *ProgressHandler) writePing(c *gin.Context, flusher http.Flusher) {
	fmt.Fprint(c.Writer, ": ping\n\n")
	flusher.Flush()
}

func snapshotEvent(job *types.Job) realtime.ProgressEvent {
	return realtime.ProgressEvent{
		JobID:     job.ID,
		Stage:     string(job.Stage),
		Progress:  job.Progress,
		Error:     job.Error,
		Timestamp: time.Now().UTC(),
	}
}

func jobChanged(prev, next *types.Job) bool {
	if prev == nil {
		return true
	}
	return prev.Status != next.Status ||
		prev.Stage != next.Stage ||
		prev.Progress != next.Progress ||
		prev.Error != next.Error
}
