package realtime

import (
	"context"

	"github.com/google/uuid"
)

// Channel is the progress pub/sub transport, decoupled from the job store.
// Publish must never block on a slow subscriber; Subscribe streams are
// best-effort and start at subscription time (no history replay), so callers
// read the job store once on connect to cover the window before the
// subscription lands.
type Channel interface {
	Publish(ctx context.Context, event ProgressEvent) error
	// Subscribe returns a live event stream for one job, or for every job
	// when jobID is uuid.Nil. The returned cancel func releases the
	// subscription and closes the stream.
	Subscribe(jobID uuid.UUID) (<-chan ProgressEvent, func())
	// Available reports whether the transport is usable. Callers degrade to
	// polling the job store when it is not.
	Available() bool
	Close() error
}

// NoopChannel is the stand-in when no transport is configured or Redis is
// down. Publishes vanish and subscriptions never emit, which pushes every
// consumer onto the polling fallback.
type NoopChannel struct{}

func NewNoopChannel() *NoopChannel { return &NoopChannel{} }

func (*NoopChannel) Publish(ctx context.Context, event ProgressEvent) error { return nil }

func (*NoopChannel) Subscribe(jobID uuid.UUID) (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent)
	return ch, func() {}
}

func (*NoopChannel) Available() bool { return false }

func (*NoopChannel) Close() error { return nil }
