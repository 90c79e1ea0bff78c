package triage

import "sync"

// subjectLocks hands out one mutex per subject so that writes for the same
// subject are serialized while different subjects proceed in parallel.
// Entries are dropped once no goroutine holds or waits on them.
type subjectLocks struct {
	mu    sync.Mutex
	locks map[string]*subjectLock
}

type subjectLock struct {
	mu   sync.Mutex
	refs int
}

func newSubjectLocks() *subjectLocks {
	return &subjectLocks{locks: make(map[string]*subjectLock)}
}

// Lock blocks until the subject's lock is held and returns its release func.
func (l *subjectLocks) Lock(subjectID string) func() {
	l.mu.Lock()
	sl, ok := l.locks[subjectID]
	if !ok {
		sl = &subjectLock{}
		l.locks[subjectID] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()

	return func() {
		sl.mu.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, subjectID)
		}
		l.mu.Unlock()
	}
}

func (l *subjectLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
