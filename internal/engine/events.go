package engine

import (
	"sync"
	"sync/atomic"
)

// EventKind distinguishes the events an EventBuffer carries.
type EventKind int

const (
	EventProgress EventKind = iota + 1
	EventInterruption
)

// Event is either a progress snapshot or an interruption notice.
type Event struct {
	Kind    EventKind
	State   BackupJobState
	Process string
}

// EventBuffer adapts the synchronous orchestrator callbacks to a bounded
// channel. When the consumer falls behind, new events are dropped and
// counted instead of blocking transfer workers.
type EventBuffer struct {
	ch      chan Event
	dropped atomic.Int64

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewEventBuffer creates a buffer holding up to size events.
func NewEventBuffer(size int) *EventBuffer {
	if size <= 0 {
		size = 1
	}
	return &EventBuffer{ch: make(chan Event, size)}
}

// Attach subscribes the buffer to o's progress and interruption events.
func (b *EventBuffer) Attach(o *Orchestrator) {
	o.OnProgress(func(s BackupJobState) {
		b.offer(Event{Kind: EventProgress, State: s})
	})
	o.OnInterruption(func(process string) {
		b.offer(Event{Kind: EventInterruption, Process: process})
	})
}

func (b *EventBuffer) offer(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.ch <- e:
	default:
		b.dropped.Add(1)
	}
}

// Events returns the receive side. It is closed by Close.
func (b *EventBuffer) Events() <-chan Event {
	return b.ch
}

// Dropped returns how many events were discarded because the buffer was full.
func (b *EventBuffer) Dropped() int64 {
	return b.dropped.Load()
}

// Close stops accepting events and closes the channel.
func (b *EventBuffer) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		close(b.ch)
	})
}
