// Package buffer provides a bounded backlog of recent event envelopes.
package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/docvault/backend/pkg/event"
)

// Backlog is a thread-safe bounded buffer of the most recent events, each
// stamped with a monotonically increasing sequence number. When the backlog is
// full, oldest events are discarded to make room for new ones.
//
// It serves the long-poll transport: clients resume from the last sequence
// they saw, and reconnecting clients catch up on anything still buffered.
type Backlog struct {
	mu       sync.Mutex
	capacity int
	events   []event.Envelope
	lastSeq  uint64
	notify   chan struct{}
}

// NewBacklog creates a Backlog keeping at most capacity events.
// The capacity must be greater than 0; if not, it defaults to 1.
func NewBacklog(capacity int) *Backlog {
	if capacity <= 0 {
		capacity = 1
	}
	return &Backlog{
		capacity: capacity,
		notify:   make(chan struct{}),
	}
}

// Append stamps env with the next sequence number and stores it, discarding
// the oldest event if the backlog is full. It returns the stamped envelope and
// wakes all pending Wait calls.
func (b *Backlog) Append(env event.Envelope) event.Envelope {
	b.mu.Lock()
	b.lastSeq++
	env.Seq = b.lastSeq
	b.events = append(b.events, env)
	if len(b.events) > b.capacity {
		b.events = b.events[len(b.events)-b.capacity:]
	}
	notify := b.notify
	b.notify = make(chan struct{})
	b.mu.Unlock()

	close(notify)
	return env
}

// Since returns a copy of all buffered events with a sequence greater than
// after, plus the latest assigned sequence.
func (b *Backlog) Since(after uint64) ([]event.Envelope, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []event.Envelope
	for _, env := range b.events {
		if env.Seq > after {
			out = append(out, env)
		}
	}
	return out, b.lastSeq
}

// Wait returns events newer than after, blocking up to hold for the first new
// event when none are buffered. It returns early when ctx is done.
func (b *Backlog) Wait(ctx context.Context, after uint64, hold time.Duration) ([]event.Envelope, uint64) {
	deadline := time.NewTimer(hold)
	defer deadline.Stop()

	for {
		b.mu.Lock()
		notify := b.notify
		b.mu.Unlock()

		events, last := b.Since(after)
		if len(events) > 0 {
			return events, last
		}

		select {
		case <-notify:
		case <-deadline.C:
			return nil, last
		case <-ctx.Done():
			return nil, last
		}
	}
}

// Len returns the number of buffered events.
func (b *Backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// LastSeq returns the latest assigned sequence number.
func (b *Backlog) LastSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSeq
}
