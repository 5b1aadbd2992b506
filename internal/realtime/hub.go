package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/sensemaker/backend/internal/logger"
)

const subscriberBuffer = 16

type subscriber struct {
	events chan ProgressEvent
	once   sync.Once
}

// Hub is the in-process Channel implementation: a subscriber registry keyed
// by job id plus an all-jobs topic. Delivery is buffered and lossy; a full
// subscriber buffer drops the event rather than blocking the publisher.
type Hub struct {
	mu    sync.RWMutex
	log   *logger.Logger
	byJob map[uuid.UUID]map[*subscriber]bool
	all   map[*subscriber]bool
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:   log.With("component", "ProgressHub"),
		byJob: make(map[uuid.UUID]map[*subscriber]bool),
		all:   make(map[*subscriber]bool),
	}
}

func (h *Hub) Publish(ctx context.Context, event ProgressEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.byJob[event.JobID] {
		h.deliver(sub, event)
	}
	for sub := range h.all {
		h.deliver(sub, event)
	}
	return nil
}

func (h *Hub) deliver(sub *subscriber, event ProgressEvent) {
	select {
	case sub.events <- event:
	default:
		h.log.Warn("Dropping progress event; subscriber buffer full",
			"job_id", event.JobID, "stage", event.Stage)
	}
}

func (h *Hub) Subscribe(jobID uuid.UUID) (<-chan ProgressEvent, func()) {
	sub := &subscriber{events: make(chan ProgressEvent, subscriberBuffer)}

	h.mu.Lock()
	if jobID == uuid.Nil {
		h.all[sub] = true
	} else {
		subs, ok := h.byJob[jobID]
		if !ok {
			subs = make(map[*subscriber]bool)
			h.byJob[jobID] = subs
		}
		subs[sub] = true
	}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if jobID == uuid.Nil {
			delete(h.all, sub)
		} else if subs, ok := h.byJob[jobID]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.byJob, jobID)
			}
		}
		h.mu.Unlock()
		// No publisher can hold a reference past the unlock above.
		sub.once.Do(func() { close(sub.events) })
	}
	return sub.events, cancel
}

func (h *Hub) Available() bool { return true }

func (h *Hub) Close() error { return nil }
