package service

import (
	"sync"

	"github.com/google/uuid"
)

// sessionLocker hands out one mutex per session ID so that mutations of the
// same session are serialized while different sessions proceed in parallel.
// Entries are reference counted and dropped when the last holder unlocks.
type sessionLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocker() *sessionLocker {
	return &sessionLocker{locks: make(map[uuid.UUID]*sessionLock)}
}

// Lock blocks until the caller owns id's critical section and returns the
// function that releases it.
func (l *sessionLocker) Lock(id uuid.UUID) (unlock func()) {
	l.mu.Lock()
	lk, ok := l.locks[id]
	if !ok {
		lk = &sessionLock{}
		l.locks[id] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()

	return func() {
		lk.mu.Unlock()

		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// size reports how many sessions currently have holders or waiters.
func (l *sessionLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
