// Package keylock serialises work per user id.
package keylock

import "sync"

// Locker hands out one mutex per id. Entries are reference counted and
// dropped when the last holder or waiter releases them, so the map only
// holds ids with work in flight.
type Locker struct {
	mu    sync.Mutex
	locks map[int64]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func New() *Locker {
	return &Locker{locks: make(map[int64]*entry)}
}

// Lock blocks until id is free and returns its unlock function. Holders of
// other ids are never waited on.
func (l *Locker) Lock(id int64) (unlock func()) {
	l.mu.Lock()
	e, ok := l.locks[id]
	if !ok {
		e = &entry{}
		l.locks[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.locks, id)
			}
			l.mu.Unlock()
		})
	}
}

// With runs fn while holding the lock for id.
func (l *Locker) With(id int64, fn func() error) error {
	unlock := l.Lock(id)
	defer unlock()
	return fn()
}

// held reports how many ids currently have a holder or waiter.
func (l *Locker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
