package triage

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestSubjectLocks_SerializesSameSubject(t *testing.T) {
	t.Parallel()

	l := newSubjectLocks()
	var (
		wg      sync.WaitGroup
		active  atomic.Int32
		overlap atomic.Bool
		counter int
	)

	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("p-1")
			defer unlock()
			if active.Add(1) > 1 {
				overlap.Store(true)
			}
			counter++
			active.Add(-1)
		}()
	}
	wg.Wait()

	if overlap.Load() {
		t.Error("two holders of the same subject lock overlapped")
	}
	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
}

func TestSubjectLocks_DifferentSubjectsIndependent(t *testing.T) {
	t.Parallel()

	l := newSubjectLocks()
	unlockA := l.Lock("p-a")

	done := make(chan struct{})
	go func() {
		unlockB := l.Lock("p-b")
		unlockB()
		close(done)
	}()
	<-done // would deadlock if p-b waited on p-a

	unlockA()
}

func TestSubjectLocks_EntriesReleased(t *testing.T) {
	t.Parallel()

	l := newSubjectLocks()
	unlock := l.Lock("p-1")
	if l.size() != 1 {
		t.Fatalf("size = %d, want 1", l.size())
	}
	unlock()
	if l.size() != 0 {
		t.Errorf("size = %d after unlock, want 0", l.size())
	}
}
