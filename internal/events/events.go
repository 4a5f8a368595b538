// Package events publishes run progress as a stream of status-change
// events, consumed by whatever wants to render progress (the CLI subscribes
// a slog sink).
package events

import (
	"context"
	"sync"
	"time"

	"github.com/vk/flowgrid/internal/ctxlog"
)

// Event is one status change of a run, job, or step. JobID and StepID are
// empty for the enclosing scopes.
type Event struct {
	RunID  string
	JobID  string
	StepID string
	From   string
	To     string
	At     time.Time
}

// Bus is an in-process publish/subscribe fan-out. Subscriber channels are
// buffered; a subscriber that stops draining loses events rather than
// blocking the engine.
type Bus struct {
	mu     sync.Mutex
	subs   []chan Event
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a new subscriber and returns its channel. The channel
// is closed by Close.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, 256)
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers an event to all subscribers. Missing timestamps are
// filled in.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close closes all subscriber channels. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
}

// LogSink drains a subscription into the context logger until the bus
// closes. Run it on its own goroutine.
func LogSink(ctx context.Context, ch <-chan Event) {
	logger := ctxlog.FromContext(ctx)
	for e := range ch {
		attrs := []any{"run", e.RunID, "to", e.To}
		if e.From != "" {
			attrs = append(attrs, "from", e.From)
		}
		if e.JobID != "" {
			attrs = append(attrs, "job", e.JobID)
		}
		if e.StepID != "" {
			attrs = append(attrs, "step", e.StepID)
		}
		logger.Info("status change", attrs...)
	}
}
