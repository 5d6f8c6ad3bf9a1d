// Package keylock provides mutual exclusion scoped to a string key.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Locker hands out one mutex per key. Entries are dropped once no goroutine holds or waits on them. The zero value
// is ready to use.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// Acquire blocks until the lock for the key is held.
func (l *Locker) Acquire(key string) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*entry)
	}
	e, ok := l.locks[key]
	if !ok {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
}

// Release releases the lock for the key. Releasing a key that was never acquired does nothing.
func (l *Locker) Release(key string) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		l.mu.Unlock()
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()

	e.mu.Unlock()
}

// With runs fn while holding the lock for the key.
func (l *Locker) With(key string, fn func() error) error {
	l.Acquire(key)
	defer l.Release(key)
	return fn()
}

// Len returns the number of keys currently held or waited on.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
