package monitor

import "sync"

// Factory builds a Tracker for a run when it is first seen.
type Factory func(runID string) *Tracker

// Registry holds one Tracker per active run. Trackers are created lazily on
// first use and removed when a run finishes, so best-mean state lives exactly
// as long as the run it belongs to.
type Registry struct {
	mu       sync.Mutex
	factory  Factory
	trackers map[string]*Tracker
}

// NewRegistry creates a Registry that mints trackers with the factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory:  factory,
		trackers: make(map[string]*Tracker),
	}
}

// Get returns the run's tracker, creating it on first use.
func (r *Registry) Get(runID string) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.trackers[runID]; ok {
		return t
	}
	t := r.factory(runID)
	r.trackers[runID] = t
	return t
}

// Remove drops the run's tracker. A later Get starts fresh, with the best
// mean reset to negative infinity.
func (r *Registry) Remove(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.trackers, runID)
}

// Len reports how many trackers are live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trackers)
}
