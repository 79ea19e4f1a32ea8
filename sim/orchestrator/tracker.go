package orchestrator

import (
	"sort"
	"sync"
)

// Tracker indexes in-flight executions by request id so they can be stopped
// from outside the goroutine consuming them. A nil *Tracker tracks nothing.
type Tracker struct {
	mu     sync.Mutex
	active map[string]*Execution
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{active: make(map[string]*Execution)}
}

func (t *Tracker) add(e *Execution) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[e.id] = e
}

func (t *Tracker) remove(id string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, id)
}

// Get returns the in-flight execution with id.
func (t *Tracker) Get(id string) (*Execution, bool) {
	if t == nil {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.active[id]
	return e, ok
}

// Stop cancels the execution with id. It reports whether one was found.
func (t *Tracker) Stop(id string) bool {
	e, ok := t.Get(id)
	if !ok {
		return false
	}
	e.Stop()
	return true
}

// Active lists in-flight request ids, sorted.
func (t *Tracker) Active() []string {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.active))
	for id := range t.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StopAll cancels every in-flight execution.
func (t *Tracker) StopAll() {
	for _, id := range t.Active() {
		t.Stop(id)
	}
}
