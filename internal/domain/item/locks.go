package item

import "sync"

// Locks serializes sync and reconnection per item. A delta sync that
// interleaved with an in-flight credential swap would apply deltas against
// the wrong credential or lose them to the mass-delete, so both paths
// acquire the same lock keyed by item id.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*itemLock
}

type itemLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocks creates an empty lock registry.
func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*itemLock)}
}

// Lock acquires the lock for itemID, blocking until it is free.
func (l *Locks) Lock(itemID string) {
	l.mu.Lock()
	il, ok := l.locks[itemID]
	if !ok {
		il = &itemLock{}
		l.locks[itemID] = il
	}
	il.refs++
	l.mu.Unlock()

	il.mu.Lock()
}

// TryLock acquires the lock for itemID without blocking.
// Returns false if a sync or reconnection already holds it.
func (l *Locks) TryLock(itemID string) bool {
	l.mu.Lock()
	il, ok := l.locks[itemID]
	if !ok {
		il = &itemLock{}
		l.locks[itemID] = il
	}
	il.refs++
	l.mu.Unlock()

	if il.mu.TryLock() {
		return true
	}

	l.mu.Lock()
	il.refs--
	if il.refs == 0 {
		delete(l.locks, itemID)
	}
	l.mu.Unlock()
	return false
}

// Unlock releases the lock for itemID. The entry is dropped once the last
// holder releases so the map does not grow with dead items.
func (l *Locks) Unlock(itemID string) {
	l.mu.Lock()
	il, ok := l.locks[itemID]
	if !ok {
		l.mu.Unlock()
		panic("item: unlock of unheld lock " + itemID)
	}
	il.refs--
	if il.refs == 0 {
		delete(l.locks, itemID)
	}
	l.mu.Unlock()

	il.mu.Unlock()
}
