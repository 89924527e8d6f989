package indexer

import "sync"

// idLocks hands out one mutex per message ID so re-entrant indexing of the
// same message serializes while distinct messages proceed in parallel.
// Entries are reference-counted and removed when the last holder releases.
type idLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newIDLocks() *idLocks {
	return &idLocks{entries: make(map[string]*lockEntry)}
}

// lock blocks until the ID's mutex is held and returns the release func.
func (l *idLocks) lock(id string) func() {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}
