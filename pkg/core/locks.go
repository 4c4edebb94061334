package core

import "sync"

// learnerLocks serializes writers per learner. Entries are dropped once no
// goroutine holds or waits for them.
type learnerLocks struct {
	mu    sync.Mutex
	locks map[string]*learnerLock
}

type learnerLock struct {
	mu   sync.Mutex
	refs int
}

func newLearnerLocks() *learnerLocks {
	return &learnerLocks{locks: make(map[string]*learnerLock)}
}

// lock blocks until learnerID is free and returns the matching unlock.
func (l *learnerLocks) lock(learnerID string) func() {
	l.mu.Lock()
	ll, ok := l.locks[learnerID]
	if !ok {
		ll = &learnerLock{}
		l.locks[learnerID] = ll
	}
	ll.refs++
	l.mu.Unlock()

	ll.mu.Lock()
	return func() {
		ll.mu.Unlock()

		l.mu.Lock()
		ll.refs--
		if ll.refs == 0 {
			delete(l.locks, learnerID)
		}
		l.mu.Unlock()
	}
}

// size returns the number of tracked learners.
func (l *learnerLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
