package triage

import (
	"testing"
	"time"
)

func collect(t *testing.T, ch <-chan Event, n int) []Event {
	t.Helper()
	out := make([]Event, 0, n)
	deadline := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out after %d/%d events", len(out), n)
		}
	}
	return out
}

func TestBusHistoryReplay(t *testing.T) {
	t.Parallel()

	b := newBus()
	b.Publish(newEvent(EventStart))
	b.Publish(newEvent(EventStep))

	ch, cancel := b.Subscribe()
	defer cancel()

	got := collect(t, ch, 2)
	if got[0].Type != EventStart || got[1].Type != EventStep {
		t.Errorf("replayed types = %v, %v; want start, step", got[0].Type, got[1].Type)
	}

	b.Publish(newEvent(EventRetry))
	live := collect(t, ch, 1)
	if live[0].Type != EventRetry {
		t.Errorf("live event = %v, want retry", live[0].Type)
	}
}

func TestBusTerminalClosesSubscribers(t *testing.T) {
	t.Parallel()

	b := newBus()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(newEvent(EventStart))
	b.Publish(newEvent(EventComplete))

	got := collect(t, ch, 2)
	if got[1].Type != EventComplete {
		t.Fatalf("last event = %v, want complete", got[1].Type)
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("channel delivered an event after terminal")
		}
	case <-time.After(time.Second):
		t.Error("channel not closed after terminal event")
	}

	// Publishing after close is a silent no-op.
	b.Publish(newEvent(EventStep))
	if n := len(b.history); n != 2 {
		t.Errorf("history grew to %d after close, want 2", n)
	}
}

func TestBusLateJoinReplaysClosedRun(t *testing.T) {
	t.Parallel()

	b := newBus()
	b.Publish(newEvent(EventStart))
	b.Publish(newEvent(EventComplete))

	ch, cancel := b.Subscribe()
	defer cancel()

	got := collect(t, ch, 2)
	if len(got) != 2 || got[1].Type != EventComplete {
		t.Fatalf("late join got %d events, want full history ending in complete", len(got))
	}
	if _, ok := <-ch; ok {
		t.Error("late-join channel stayed open")
	}
}

func TestBusCancelDetaches(t *testing.T) {
	t.Parallel()

	b := newBus()
	_, cancel := b.Subscribe()
	if got, want := b.Subscribers(), 1; got != want {
		t.Fatalf("subscribers = %d, want %d", got, want)
	}
	cancel()
	if got, want := b.Subscribers(), 0; got != want {
		t.Errorf("subscribers after cancel = %d, want %d", got, want)
	}
	cancel() // idempotent
}

func TestBusDropsStalledSubscriber(t *testing.T) {
	t.Parallel()

	b := newBus()
	ch, cancel := b.Subscribe()
	defer cancel()

	// Fill the buffer without draining.
	for i := 0; i < subscriberSlack+1; i++ {
		b.Publish(newEvent(EventStep))
	}
	if got, want := b.Subscribers(), 0; got != want {
		t.Errorf("stalled subscriber still attached: %d, want %d", got, want)
	}
	// The channel closes so the consumer observes the disconnect.
	drained := 0
	for range ch {
		drained++
	}
	if drained != subscriberSlack {
		t.Errorf("drained %d buffered events, want %d", drained, subscriberSlack)
	}
}
