package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sensemaker/backend/internal/jobs"
	"github.com/sensemaker/backend/internal/logger"
	"github.com/sensemaker/backend/internal/repos"
	"github.com/sensemaker/backend/internal/types"
)

type span struct {
	jobID uuid.UUID
	start time.Time
	end   time.Time
}

// stubHandler completes every job after holding it for workDuration, or
// fails/panics when told to.
type stubHandler struct {
	mu           sync.Mutex
	spans        []span
	runs         int64
	workDuration time.Duration
	returnErr    error
	doPanic      bool
}

func (h *stubHandler) Type() string { return types.JobTypeSensemaking }

func (h *stubHandler) Run(ec *jobs.Execution) error {
	atomic.AddInt64(&h.runs, 1)
	start := time.Now()
	if h.doPanic {
		panic("stub handler exploded")
	}
	if h.returnErr != nil {
		return h.returnErr
	}
	if err := ec.Progress(types.JobStageParsingCSV, 5); err != nil {
		return nil
	}
	time.Sleep(h.workDuration)
	if err := ec.Succeed(nil); err != nil {
		return nil
	}
	h.mu.Lock()
	h.spans = append(h.spans, span{jobID: ec.Job().ID, start: start, end: time.Now()})
	h.mu.Unlock()
	return nil
}

func newTestWorker(t *testing.T, h Handler, concurrency int) (*Worker, *repos.MemoryJobRepo) {
	repo := repos.NewMemoryJobRepo()
	registry := NewRegistry()
	if err := registry.Register(h); err != nil {
		t.Fatalf("register handler: %v", err)
	}
	w := New(logger.NewNop(), repo, nil, registry, Config{
		Concurrency:  concurrency,
		PollInterval: 5 * time.Millisecond,
		MaxAttempts:  5,
		StaleRunning: time.Minute,
	})
	return w, repo
}

func waitTerminal(t *testing.T, repo *repos.MemoryJobRepo, ids ...uuid.UUID) map[uuid.UUID]*types.Job {
	deadline := time.After(5 * time.Second)
	out := make(map[uuid.UUID]*types.Job)
	for {
		done := 0
		for _, id := range ids {
			job, err := repo.GetByID(context.Background(), id)
			if err != nil {
				t.Fatalf("reload job: %v", err)
			}
			out[id] = job
			if job.Status.IsTerminal() {
				done++
			}
		}
		if done == len(ids) {
			return out
		}
		select {
		case <-deadline:
			t.Fatalf("jobs never reached a terminal status: %+v", out)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestWorkerSerializesWithSingleSlot(t *testing.T) {
	h := &stubHandler{workDuration: 50 * time.Millisecond}
	w, repo := newTestWorker(t, h, 1)

	first, err := repo.Create(context.Background(), &types.Job{ReportID: uuid.New()})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	second, err := repo.Create(context.Background(), &types.Job{ReportID: uuid.New()})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	final := waitTerminal(t, repo, first.ID, second.ID)
	cancel()

	for _, job := range final {
		if job.Status != types.JobStatusCompleted {
			t.Fatalf("expected COMPLETED, got %s (error=%q)", job.Status, job.Error)
		}
	}

	h.mu.Lock()
	spans := append([]span(nil), h.spans...)
	h.mu.Unlock()
	if len(spans) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(spans))
	}
	if spans[1].start.Before(spans[0].end) {
		t.Fatalf("single slot must not overlap executions: first ended %v, second started %v",
			spans[0].end, spans[1].start)
	}
}

func TestWorkerHeartbeatOutlastsStaleWindow(t *testing.T) {
	h := &stubHandler{workDuration: 150 * time.Millisecond}
	repo := repos.NewMemoryJobRepo()
	registry := NewRegistry()
	if err := registry.Register(h); err != nil {
		t.Fatalf("register handler: %v", err)
	}
	// The execution runs well past StaleRunning; only the heartbeat ticker
	// keeps the second slot from reclaiming it.
	w := New(logger.NewNop(), repo, nil, registry, Config{
		Concurrency:       2,
		PollInterval:      5 * time.Millisecond,
		MaxAttempts:       5,
		StaleRunning:      40 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
	})

	job, err := repo.Create(context.Background(), &types.Job{ReportID: uuid.New()})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	final := waitTerminal(t, repo, job.ID)[job.ID]
	// Let any straggling reclaim surface before asserting.
	time.Sleep(60 * time.Millisecond)

	if final.Status != types.JobStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (error=%q)", final.Status, final.Error)
	}
	if got := atomic.LoadInt64(&h.runs); got != 1 {
		t.Fatalf("a live job must never run on two slots, got %d executions", got)
	}
	if final.Attempts != 1 {
		t.Fatalf("expected a single delivery attempt, got %d", final.Attempts)
	}
}

func TestWorkerFailsJobOnHandlerError(t *testing.T) {
	h := &stubHandler{returnErr: errors.New("stage blew up")}
	w, repo := newTestWorker(t, h, 1)

	job, err := repo.Create(context.Background(), &types.Job{ReportID: uuid.New()})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	final := waitTerminal(t, repo, job.ID)[job.ID]
	if final.Status != types.JobStatusFailed {
		t.Fatalf("expected FAILED, got %s", final.Status)
	}
	if final.Error != "stage blew up" {
		t.Fatalf("expected the handler error verbatim, got %q", final.Error)
	}
}

func TestWorkerRecoversFromHandlerPanic(t *testing.T) {
	h := &stubHandler{doPanic: true}
	w, repo := newTestWorker(t, h, 1)

	job, err := repo.Create(context.Background(), &types.Job{ReportID: uuid.New()})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	final := waitTerminal(t, repo, job.ID)[job.ID]
	if final.Status != types.JobStatusFailed {
		t.Fatalf("expected FAILED after panic, got %s", final.Status)
	}
}

type otherTypeHandler struct{}

func (otherTypeHandler) Type() string              { return "something-else" }
func (otherTypeHandler) Run(*jobs.Execution) error { return nil }

func TestWorkerFailsJobWithoutHandler(t *testing.T) {
	w, repo := newTestWorker(t, otherTypeHandler{}, 1)

	job, err := repo.Create(context.Background(), &types.Job{ReportID: uuid.New()})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	final := waitTerminal(t, repo, job.ID)[job.ID]
	if final.Status != types.JobStatusFailed {
		t.Fatalf("expected FAILED, got %s", final.Status)
	}
}
