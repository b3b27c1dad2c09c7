// Package locks provides per-key mutexes for serializing work on one
// entity, like a single cart session or order, without a global lock.
package locks

import "sync"

// Keyed hands out one mutex per key. Mutexes are created on demand
// and kept for the life of the process.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[string]*sync.Mutex)}
}

// Lock blocks until the key's mutex is held and returns the unlock.
//
//	unlock := locks.Lock(id)
//	defer unlock()
func (k *Keyed) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
