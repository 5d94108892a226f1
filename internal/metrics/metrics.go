// Package metrics provides the process-wide counter registry.
package metrics

import "sync"

// Well-known counter names. Unknown counters are created lazily at 0 on
// first increment.
const (
	CounterConfirmations   = "confirmations"
	CounterRejections      = "rejections"
	CounterExpirations     = "expirations"
	CounterActionsExecuted = "actions_executed"
)

// Registry holds named counters for the lifetime of the process. It is
// constructed once at the dependency-injection root and passed down, so
// tests can build fresh instances instead of resetting shared state.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]int64
}

// New creates a registry seeded with the well-known counters at 0.
func New() *Registry {
	r := &Registry{counters: make(map[string]int64)}
	r.seed()
	return r
}

func (r *Registry) seed() {
	for _, name := range []string{
		CounterConfirmations,
		CounterRejections,
		CounterExpirations,
		CounterActionsExecuted,
	} {
		if _, ok := r.counters[name]; !ok {
			r.counters[name] = 0
		}
	}
}

// Increment adds n to the named counter, creating it at 0 first if unseen.
func (r *Registry) Increment(name string, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += n
}

// Get returns the current value of the named counter, 0 if unseen.
func (r *Registry) Get(name string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters[name]
}

// GetAll returns a copy of all counters.
func (r *Registry) GetAll() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int64, len(r.counters))
	for name, v := range r.counters {
		out[name] = v
	}
	return out
}

// Reset zeroes every counter, seeded and ad hoc alike. Ad hoc counters are
// kept at 0, not removed.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.counters {
		r.counters[name] = 0
	}
	r.seed()
}
