// Package events publishes breaker state-transition events to an explicit
// outbound channel. Subscribers (dashboards, persistence, coordination
// monitors) are external to the core: the bus only emits, it never tracks
// subscriber state, and publishing never blocks the admission hot path.
package events

import (
	"sync"
	"time"

	"github.com/fleetops/failguard/internal/observability"
)

// Event describes a single breaker state transition.
type Event struct {
	BreakerID   string
	BreakerName string
	SystemLayer string
	From        string
	To          string
	Reason      string
	At          time.Time

	// Snapshot of the metrics that triggered the transition.
	Failures    int
	Successes   int
	Total       int
	FailureRate float64
}

// Bus is a bounded, non-blocking transition event channel.
type Bus struct {
	ch     chan Event
	logger observability.Logger

	mu     sync.Mutex
	closed bool
}

// DefaultBuffer is the default event channel capacity.
const DefaultBuffer = 256

// NewBus creates a bus with the given buffer size.
func NewBus(buffer int, logger observability.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Bus{
		ch:     make(chan Event, buffer),
		logger: logger,
	}
}

// Publish emits an event without blocking. If the buffer is full the event
// is dropped and counted; a slow consumer must never stall a transition.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	select {
	case b.ch <- e:
		RecordPublished()
	default:
		RecordDropped()
		b.logger.Warn("transition event dropped, buffer full",
			observability.String("breaker", e.BreakerID),
			observability.String("from", e.From),
			observability.String("to", e.To),
		)
	}
}

// Events returns the outbound channel. The channel is closed by Close.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Close closes the bus. Publish becomes a no-op afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
