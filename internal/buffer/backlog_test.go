package buffer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/docvault/backend/pkg/event"
)

func appendN(b *Backlog, n int) {
	for i := 0; i < n; i++ {
		env, _ := event.New(event.JobProgress, event.JobProgressPayload{JobID: fmt.Sprintf("j-%d", i), Progress: i})
		b.Append(env)
	}
}

func TestBacklogAppend(t *testing.T) {
	t.Run("stamps strictly increasing sequence numbers", func(t *testing.T) {
		b := NewBacklog(8)

		var last uint64
		for i := 0; i < 5; i++ {
			env, _ := event.New(event.Pong, event.PongPayload{TS: int64(i)})
			stamped := b.Append(env)
			if stamped.Seq <= last {
				t.Fatalf("sequence did not increase: %d after %d", stamped.Seq, last)
			}
			last = stamped.Seq
		}
		if b.LastSeq() != last {
			t.Errorf("LastSeq %d, want %d", b.LastSeq(), last)
		}
	})

	t.Run("discards oldest events beyond capacity", func(t *testing.T) {
		b := NewBacklog(3)
		appendN(b, 10)

		if b.Len() != 3 {
			t.Fatalf("expected 3 buffered events, got %d", b.Len())
		}

		events, last := b.Since(0)
		if last != 10 {
			t.Errorf("expected last seq 10, got %d", last)
		}
		for i, env := range events {
			if want := uint64(8 + i); env.Seq != want {
				t.Errorf("event %d has seq %d, want %d", i, env.Seq, want)
			}
		}
	})

	t.Run("non-positive capacity falls back to one", func(t *testing.T) {
		b := NewBacklog(0)
		appendN(b, 5)
		if b.Len() != 1 {
			t.Errorf("expected 1 buffered event, got %d", b.Len())
		}
	})
}

func TestBacklogSince(t *testing.T) {
	b := NewBacklog(16)
	appendN(b, 6)

	t.Run("returns only events newer than the cursor", func(t *testing.T) {
		events, last := b.Since(4)
		if len(events) != 2 || last != 6 {
			t.Fatalf("got %d events last=%d, want 2 events last=6", len(events), last)
		}
		if events[0].Seq != 5 || events[1].Seq != 6 {
			t.Errorf("unexpected sequences: %d %d", events[0].Seq, events[1].Seq)
		}
	})

	t.Run("cursor at the head yields nothing", func(t *testing.T) {
		events, last := b.Since(6)
		if len(events) != 0 || last != 6 {
			t.Errorf("got %d events last=%d, want none", len(events), last)
		}
	})
}

func TestBacklogWait(t *testing.T) {
	t.Run("returns buffered events immediately", func(t *testing.T) {
		b := NewBacklog(8)
		appendN(b, 2)

		start := time.Now()
		events, _ := b.Wait(context.Background(), 0, time.Second)
		if len(events) != 2 {
			t.Fatalf("expected 2 events, got %d", len(events))
		}
		if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
			t.Errorf("wait blocked %v despite buffered events", elapsed)
		}
	})

	t.Run("wakes on a new append", func(t *testing.T) {
		b := NewBacklog(8)

		done := make(chan []event.Envelope, 1)
		go func() {
			events, _ := b.Wait(context.Background(), 0, 5*time.Second)
			done <- events
		}()

		time.Sleep(50 * time.Millisecond)
		env, _ := event.New(event.JobCompleted, event.JobCompletedPayload{JobID: "j1"})
		b.Append(env)

		select {
		case events := <-done:
			if len(events) != 1 || events[0].Event != event.JobCompleted {
				t.Errorf("unexpected wake result: %+v", events)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("wait never woke on append")
		}
	})

	t.Run("returns empty after the hold elapses", func(t *testing.T) {
		b := NewBacklog(8)

		events, last := b.Wait(context.Background(), 0, 50*time.Millisecond)
		if len(events) != 0 || last != 0 {
			t.Errorf("expected empty timeout result, got %d events last=%d", len(events), last)
		}
	})

	t.Run("returns early when the context is cancelled", func(t *testing.T) {
		b := NewBacklog(8)
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan struct{})
		go func() {
			b.Wait(ctx, 0, 10*time.Second)
			close(done)
		}()

		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("wait ignored context cancellation")
		}
	})
}

func TestBacklogProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("never holds more than capacity and keeps the newest suffix", prop.ForAll(
		func(capacity, appends int) bool {
			b := NewBacklog(capacity)
			appendN(b, appends)

			wantLen := appends
			if wantLen > capacity {
				wantLen = capacity
			}
			if b.Len() != wantLen {
				return false
			}

			events, last := b.Since(0)
			if last != uint64(appends) {
				return false
			}
			for i, env := range events {
				if env.Seq != uint64(appends-wantLen+1+i) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 32),
		gen.IntRange(0, 100),
	))

	properties.Property("since returns exactly the events above the cursor", prop.ForAll(
		func(appends int, after uint64) bool {
			b := NewBacklog(appends + 1)
			appendN(b, appends)

			events, _ := b.Since(after)
			want := 0
			if after < uint64(appends) {
				want = appends - int(after)
			}
			if len(events) != want {
				return false
			}
			for i, env := range events {
				if env.Seq != after+uint64(i)+1 {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 50),
		gen.UInt64Range(0, 60),
	))

	properties.TestingRun(t)
}
