package triage

import (
	"sync"
	"time"
)

// DefaultRetention is how long a finished run stays subscribable so late
// joiners can still receive the cached terminal event.
const DefaultRetention = 5 * time.Minute

const sweepInterval = 30 * time.Second

type runEntry struct {
	bus       *Bus
	expiresAt time.Time // zero until the run reaches a terminal event
}

// Registry is the process-local mapping of run id to event bus. Entries
// are inserted on start and swept out after the retention window
// following the terminal event.
type Registry struct {
	mu        sync.Mutex
	runs      map[string]*runEntry
	retention time.Duration
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewRegistry creates a registry and starts its TTL sweeper.
func NewRegistry(retention time.Duration) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	r := &Registry{
		runs:      make(map[string]*runEntry),
		retention: retention,
		stop:      make(chan struct{}),
	}
	go r.sweep()
	return r
}

// Add registers a new run and returns its bus.
func (r *Registry) Add(runID string) *Bus {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := newBus()
	r.runs[runID] = &runEntry{bus: b}
	return b
}

// MarkDone starts the retention clock for a terminal run.
func (r *Registry) MarkDone(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.runs[runID]; ok {
		e.expiresAt = time.Now().Add(r.retention)
	}
}

// Subscribe attaches to a run's stream. ok=false means the run id is
// unknown or already swept.
func (r *Registry) Subscribe(runID string) (<-chan Event, func(), bool) {
	r.mu.Lock()
	e, ok := r.runs[runID]
	r.mu.Unlock()
	if !ok {
		return nil, nil, false
	}
	ch, cancel := e.bus.Subscribe()
	return ch, cancel, true
}

// Subscribers returns the live subscriber count across all runs.
func (r *Registry) Subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.runs {
		n += e.bus.Subscribers()
	}
	return n
}

// Close stops the sweeper.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Registry) sweep() {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-r.stop:
			return
		case now := <-t.C:
			r.mu.Lock()
			for id, e := range r.runs {
				if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
					delete(r.runs, id)
				}
			}
			r.mu.Unlock()
		}
	}
}
