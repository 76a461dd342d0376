package shared

import (
	"fmt"
	"sync"
)

// KeyedMutex serializes work per key. Dispatch transitions lock on the
// dispatch id so two concurrent workflow calls cannot interleave.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex constructs a KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock acquires the mutex for key, blocking until available.
func (m *KeyedMutex) Lock(key string) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyedLock{}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()
	l.mu.Lock()
}

// Unlock releases the mutex for key.
func (m *KeyedMutex) Unlock(key string) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if ok {
		l.refs--
		if l.refs == 0 {
			delete(m.locks, key)
		}
	}
	m.mu.Unlock()
	if ok {
		l.mu.Unlock()
	}
}

// DispatchLockKey builds the key used to serialize dispatch transitions.
func DispatchLockKey(tenantID, dispatchID string) string {
	return fmt.Sprintf("dispatch:%s:%s", tenantID, dispatchID)
}

// SyncTickLockKey builds the redis key guarding scheduler ticks per tenant.
func SyncTickLockKey(tenantID string) string {
	return fmt.Sprintf("sync:tick:%s:lock", tenantID)
}
