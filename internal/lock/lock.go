// Package lock provides per-key mutual exclusion for in-flight submissions.
package lock

import "sync"

// Table tracks which keys currently have a submission outstanding.
// The zero value is not usable; call New.
type Table struct {
	mu   sync.Mutex
	held map[string]bool
}

// New returns an empty lock table.
func New() *Table {
	return &Table{held: make(map[string]bool)}
}

// Acquire marks key as held and returns true, or returns false without side
// effects if it is already held. An empty key requests no exclusion and
// always succeeds.
func (t *Table) Acquire(key string) bool {
	if key == "" {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.held[key] {
		return false
	}
	t.held[key] = true
	return true
}

// Release clears the held marker for key. Releasing an unknown key is a no-op.
func (t *Table) Release(key string) {
	if key == "" {
		return
	}
	t.mu.Lock()
	delete(t.held, key)
	t.mu.Unlock()
}

// Held reports whether key is currently held.
func (t *Table) Held(key string) bool {
	if key == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.held[key]
}
