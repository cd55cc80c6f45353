package common

import "sync"

// KeyedMutex serializes critical sections per 32-byte key (project, round,
// schedule or pool identifier). Distinct keys never contend with each other.
// The zero value is ready to use.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[[32]byte]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex returns an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[[32]byte]*keyedEntry)}
}

// Lock acquires the mutex for key and returns the matching unlock function.
func (k *KeyedMutex) Lock(key [32]byte) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[[32]byte]*keyedEntry)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Size reports how many keys currently hold or wait for a lock.
func (k *KeyedMutex) Size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
