package graph

import "sync"

// ThreadLocks serializes executions per thread id. Checkpoint writes are not
// commutative, so at most one orchestrator execution may be in flight for a
// given thread; independent threads proceed in parallel.
type ThreadLocks struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// NewThreadLocks creates an empty lock table.
func NewThreadLocks() *ThreadLocks {
	return &ThreadLocks{locks: make(map[string]*entry)}
}

// Lock acquires the lock for the given thread id and returns the unlock
// function. Entries are reference counted so the table does not grow with
// dead thread ids.
func (t *ThreadLocks) Lock(threadID string) func() {
	t.mu.Lock()
	e, ok := t.locks[threadID]
	if !ok {
		e = &entry{}
		t.locks[threadID] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		t.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(t.locks, threadID)
		}
		t.mu.Unlock()
	}
}
