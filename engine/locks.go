package engine

import "sync"

// locks hands out one mutex per instance id. Entries are dropped once no
// caller holds or waits on them, so unrelated ids never contend.
type locks struct {
	mu sync.Mutex
	m  map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLocks() *locks { return &locks{m: map[string]*lockEntry{}} }

// lock blocks until id is held and returns the matching unlock.
func (l *locks) lock(id string) func() {
	l.mu.Lock()
	e, ok := l.m[id]
	if !ok {
		e = &lockEntry{}
		l.m[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}

func (l *locks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
