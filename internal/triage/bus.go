package triage

import "sync"

// subscriber buffer beyond the replayed history. A run emits at most a
// few dozen events, so a consumer that falls this far behind is not
// draining at all and gets disconnected instead of blocking the run.
const subscriberSlack = 64

// Bus is the per-run event channel. The engine is the only writer;
// subscribers get a read-only view with full history replay, so a
// late join still sees the cached terminal event.
type Bus struct {
	mu      sync.Mutex
	history []Event
	subs    map[int]chan Event
	nextID  int
	closed  bool
}

func newBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Publish appends the event to history and fans it out. A terminal event
// closes every subscriber channel after delivery. Publish after a
// terminal event is a no-op.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.history = append(b.history, ev)

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is not draining; ordered delivery cannot be
			// guaranteed past this point, so close it out.
			close(ch)
			delete(b.subs, id)
		}
	}

	if ev.Terminal() {
		b.closed = true
		for id, ch := range b.subs {
			close(ch)
			delete(b.subs, id)
		}
	}
}

// Subscribe replays the full history and then delivers live events in
// emission order. The returned cancel func detaches the subscriber; it is
// safe to call after the channel has closed.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, len(b.history)+subscriberSlack)
	for _, ev := range b.history {
		ch <- ev
	}

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			close(ch)
			delete(b.subs, id)
		}
	}
	return ch, cancel
}

// Subscribers returns the current live subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
