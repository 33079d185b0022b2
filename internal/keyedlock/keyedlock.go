// Package keyedlock provides per-key mutual exclusion. The trader engine
// holds one key per strategy while a tick runs, and the profit engine holds
// one key per trade id across its check-then-settle sequence, so overlapping
// ticks can never double-execute or double-settle.
package keyedlock

import "sync"

// Keyed is a set of named locks. The zero value is not usable; call New.
type Keyed struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// New creates an empty lock set.
func New() *Keyed {
	return &Keyed{held: make(map[string]struct{})}
}

// TryLock acquires key if it is free and reports whether it did.
func (k *Keyed) TryLock(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, busy := k.held[key]; busy {
		return false
	}
	k.held[key] = struct{}{}
	return true
}

// Unlock releases key. Unlocking a free key is a no-op.
func (k *Keyed) Unlock(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.held, key)
}
