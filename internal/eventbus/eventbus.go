// Package eventbus carries notifications about proxied calls to in-process or remote
// subscribers.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// TypeCallFinalized is emitted once a call's response has been persisted.
const TypeCallFinalized = "call.finalized"

// Event summarizes one proxied call. Bodies are never included.
type Event struct {
	Type      string        `json:"type"`
	CallID    string        `json:"call_id"`
	RequestID string        `json:"request_id,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Method    string        `json:"method"`
	Path      string        `json:"path"`
	Service   string        `json:"service,omitempty"`
	Model     string        `json:"model,omitempty"`
	Status    int           `json:"status"`
	IsStream  bool          `json:"is_stream"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// EventBus is a simple interface for publishing events to subscribers.
type EventBus interface {
	Publish(ctx context.Context, evt Event)
	Subscribe() <-chan Event
	Stop()
}

type busStats struct {
	published atomic.Int64
	dropped   atomic.Int64
}

// InMemoryEventBus fans every published event out to all subscribers.
// Publishing never blocks: a subscriber whose buffer is full misses the event.
type InMemoryEventBus struct {
	bufferSize  int
	mu          sync.RWMutex
	subscribers []chan Event
	stopped     bool
	stats       busStats
}

// NewInMemoryEventBus creates a new in-memory event bus with the given per-subscriber buffer size.
func NewInMemoryEventBus(bufferSize int) *InMemoryEventBus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &InMemoryEventBus{bufferSize: bufferSize}
}

// Publish sends an event to every subscriber without blocking.
func (b *InMemoryEventBus) Publish(_ context.Context, evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		b.stats.dropped.Add(1)
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
			b.stats.published.Add(1)
		default:
			b.stats.dropped.Add(1)
		}
	}
}

// Subscribe returns a new channel that receives events published after this call.
func (b *InMemoryEventBus) Subscribe() <-chan Event {
	ch := make(chan Event, b.bufferSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Stop closes all subscriber channels. Later publishes are dropped.
func (b *InMemoryEventBus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}

// Stats returns the number of delivered and dropped events.
func (b *InMemoryEventBus) Stats() (published, dropped int) {
	return int(b.stats.published.Load()), int(b.stats.dropped.Load())
}

// NopEventBus discards everything.
type NopEventBus struct{}

// Publish drops evt.
func (NopEventBus) Publish(context.Context, Event) {}

// Subscribe returns a closed channel.
func (NopEventBus) Subscribe() <-chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}

// Stop is a no-op.
func (NopEventBus) Stop() {}
