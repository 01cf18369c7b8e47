package agent

import (
	"context"
	"slices"
	"sync"
)

// sessionLocks serializes work per session id. Waiters acquire a session in
// the order they asked for it. Locks are created on demand and dropped once
// nobody holds or waits for them.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	held bool
	// waiters are closed, oldest first, to hand the lock over.
	waiters []chan struct{}
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// lock blocks until the session is free or ctx ends.
func (l *sessionLocks) lock(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	sl, ok := l.locks[id]
	if !ok {
		sl = &sessionLock{}
		l.locks[id] = sl
	}
	if !sl.held {
		sl.held = true
		l.mu.Unlock()
		return l.unlocker(id, sl), nil
	}
	ready := make(chan struct{})
	sl.waiters = append(sl.waiters, ready)
	l.mu.Unlock()

	select {
	case <-ready:
		return l.unlocker(id, sl), nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-ready:
		// Handed over while giving up: pass it on.
		l.handOffLocked(id, sl)
	default:
		sl.waiters = slices.DeleteFunc(sl.waiters, func(c chan struct{}) bool { return c == ready })
	}
	return nil, ctx.Err()
}

func (l *sessionLocks) unlocker(id string, sl *sessionLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.handOffLocked(id, sl)
		})
	}
}

// handOffLocked passes a held lock to the oldest waiter, or frees it.
func (l *sessionLocks) handOffLocked(id string, sl *sessionLock) {
	if len(sl.waiters) > 0 {
		next := sl.waiters[0]
		sl.waiters = sl.waiters[1:]
		close(next)
		return
	}
	sl.held = false
	delete(l.locks, id)
}

// size returns the number of sessions currently locked or awaited.
func (l *sessionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// waiting returns the number of callers queued behind the holder of id.
func (l *sessionLocks) waiting(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sl, ok := l.locks[id]; ok {
		return len(sl.waiters)
	}
	return 0
}
