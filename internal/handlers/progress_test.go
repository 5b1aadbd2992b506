package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sensemaker/backend/internal/logger"
	"github.com/sensemaker/backend/internal/realtime"
	"github.com/sensemaker/backend/internal/repos"
	"github.com/sensemaker/backend/internal/services"
	"github.com/sensemaker/backend/internal/types"
)

func newProgressRouter(t *testing.T, channel realtime.Channel) (*gin.Engine, *ProgressHandler, *repos.MemoryJobRepo, *types.Report) {
	gin.SetMode(gin.TestMode)
	jobRepo := repos.NewMemoryJobRepo()
	reportRepo := repos.NewMemoryReportRepo()
	report := &types.Report{ID: uuid.New(), Status: types.ReportStatusPending}
	reportRepo.Put(report)

	svc := services.NewJobService(logger.NewNop(), jobRepo, reportRepo)
	h := NewProgressHandler(logger.NewNop(), svc, channel)

	router := gin.New()
	router.GET("/api/jobs/all/progress", h.StreamAll)
	router.GET("/api/jobs/:id/progress", h.StreamJob)
	return router, h, jobRepo, report
}

// sseEvents extracts the decoded progress events from an SSE body.
func sseEvents(t *testing.T, body string) []realtime.ProgressEvent {
	var out []realtime.ProgressEvent
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev realtime.ProgressEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad event payload %q: %v", line, err)
		}
		out = append(out, ev)
	}
	return out
}

func streamJob(router *gin.Engine, jobID uuid.UUID) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID.String()+"/progress", nil)
	router.ServeHTTP(w, req)
	return w
}

func TestStreamJobTerminalSnapshot(t *testing.T) {
	router, _, jobRepo, report := newProgressRouter(t, realtime.NewNoopChannel())

	job, err := jobRepo.Create(context.Background(), &types.Job{ReportID: report.ID})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, err := jobRepo.UpdateProgress(context.Background(), job.ID, types.JobStageComplete, 100, ""); err != nil {
		t.Fatalf("complete job: %v", err)
	}

	w := streamJob(router, job.ID)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", ct)
	}
	events := sseEvents(t, w.Body.String())
	if len(events) != 1 {
		t.Fatalf("a terminal job streams its snapshot only, got %d events", len(events))
	}
	if events[0].Progress != 100 || events[0].Stage != string(types.JobStageComplete) {
		t.Fatalf("unexpected snapshot: %+v", events[0])
	}
}

func TestStreamJobPollingFallback(t *testing.T) {
	router, h, jobRepo, report := newProgressRouter(t, realtime.NewNoopChannel())
	h.poll = 10 * time.Millisecond

	job, err := jobRepo.Create(context.Background(), &types.Job{ReportID: report.ID})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		jobRepo.UpdateProgress(context.Background(), job.ID, types.JobStageParsingCSV, 5, "")
		time.Sleep(30 * time.Millisecond)
		jobRepo.UpdateProgress(context.Background(), job.ID, types.JobStageComplete, 100, "")
	}()

	// Blocks until the poll loop observes the terminal row.
	w := streamJob(router, job.ID)

	events := sseEvents(t, w.Body.String())
	if len(events) < 2 {
		t.Fatalf("expected the snapshot plus polled updates, got %+v", events)
	}
	if events[0].Progress != 0 {
		t.Fatalf("expected the queued snapshot first, got %+v", events[0])
	}
	prev := -1
	for _, ev := range events {
		if ev.Progress < prev {
			t.Fatalf("polled progress must not decrease: %+v", events)
		}
		prev = ev.Progress
	}
	last := events[len(events)-1]
	if last.Progress != 100 || !last.Terminal() {
		t.Fatalf("the stream must end on the terminal event, got %+v", last)
	}
}

func TestStreamJobLiveEvents(t *testing.T) {
	hub := realtime.NewHub(logger.NewNop())
	router, _, jobRepo, report := newProgressRouter(t, hub)

	job, err := jobRepo.Create(context.Background(), &types.Job{ReportID: report.ID})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, err := jobRepo.UpdateProgress(context.Background(), job.ID, types.JobStageLearningTopics, 30, ""); err != nil {
		t.Fatalf("advance job: %v", err)
	}

	// Publish the terminal event until the stream picks it up; the
	// subscription lands at an unknown point after ServeHTTP starts.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				hub.Publish(context.Background(), realtime.ProgressEvent{
					JobID:    job.ID,
					Stage:    string(types.JobStageComplete),
					Progress: 100,
				})
			}
		}
	}()

	w := streamJob(router, job.ID)

	events := sseEvents(t, w.Body.String())
	if len(events) < 2 {
		t.Fatalf("expected snapshot plus live events, got %+v", events)
	}
	if events[0].Progress != 30 || events[0].Stage != string(types.JobStageLearningTopics) {
		t.Fatalf("unexpected snapshot: %+v", events[0])
	}
	if last := events[len(events)-1]; last.Progress != 100 {
		t.Fatalf("the stream must end on the terminal event, got %+v", last)
	}
}

// hookedChannel runs a callback when a subscription lands, standing in for
// a writer that commits between the handler's first store read and the
// subscription.
type hookedChannel struct {
	hub         *realtime.Hub
	onSubscribe func(jobID uuid.UUID)
}

func (c *hookedChannel) Publish(ctx context.Context, event realtime.ProgressEvent) error {
	return c.hub.Publish(ctx, event)
}

func (c *hookedChannel) Subscribe(jobID uuid.UUID) (<-chan realtime.ProgressEvent, func()) {
	if c.onSubscribe != nil {
		c.onSubscribe(jobID)
	}
	return c.hub.Subscribe(jobID)
}

func (c *hookedChannel) Available() bool { return true }
func (c *hookedChannel) Close() error    { return nil }

func TestStreamJobSnapshotReadAfterSubscribe(t *testing.T) {
	hub := realtime.NewHub(logger.NewNop())
	channel := &hookedChannel{hub: hub}
	router, _, jobRepo, report := newProgressRouter(t, channel)

	job, err := jobRepo.Create(context.Background(), &types.Job{ReportID: report.ID})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, err := jobRepo.UpdateProgress(context.Background(), job.ID, types.JobStageParsingCSV, 5, ""); err != nil {
		t.Fatalf("advance job: %v", err)
	}

	// A write that lands after the handler's first read but before the
	// subscription must still reach the client through the snapshot.
	done := make(chan struct{})
	defer close(done)
	channel.onSubscribe = func(jobID uuid.UUID) {
		jobRepo.UpdateProgress(context.Background(), jobID, types.JobStageCategorizingComments, 60, "")
		go func() {
			ticker := time.NewTicker(10 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					hub.Publish(context.Background(), realtime.ProgressEvent{
						JobID:    jobID,
						Stage:    string(types.JobStageComplete),
						Progress: 100,
					})
				}
			}
		}()
	}

	w := streamJob(router, job.ID)

	events := sseEvents(t, w.Body.String())
	if len(events) == 0 {
		t.Fatal("expected at least the snapshot event")
	}
	if events[0].Progress != 60 || events[0].Stage != string(types.JobStageCategorizingComments) {
		t.Fatalf("snapshot must reflect writes up to the subscription, got %+v", events[0])
	}
	if last := events[len(events)-1]; last.Progress != 100 {
		t.Fatalf("the stream must end on the terminal event, got %+v", last)
	}
}

func TestStreamJobUnknownID(t *testing.T) {
	router, _, _, _ := newProgressRouter(t, realtime.NewNoopChannel())

	w := streamJob(router, uuid.New())

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	var envelope ErrorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("expected the error envelope, got %q", w.Body.String())
	}
	if envelope.Error.Code != "job_not_found" {
		t.Fatalf("unexpected error code %q", envelope.Error.Code)
	}
}

func TestStreamAllUnavailableWithoutChannel(t *testing.T) {
	router, _, _, _ := newProgressRouter(t, realtime.NewNoopChannel())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/all/progress", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	var envelope ErrorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("expected the error envelope, got %q", w.Body.String())
	}
	if envelope.Error.Code != "progress_unavailable" {
		t.Fatalf("unexpected error code %q", envelope.Error.Code)
	}
}
