package documents

import "sync"

// documentLocks hands out one mutex per document identifier so that version
// appends to the same document serialize while unrelated documents never
// contend. Entries are reference counted and dropped once the last holder
// releases.
type documentLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu      sync.Mutex
	holders int
}

func newDocumentLocks() *documentLocks {
	return &documentLocks{entries: make(map[string]*lockEntry)}
}

// acquire blocks until the caller holds the lock for documentID and returns
// the matching release function.
func (l *documentLocks) acquire(documentID string) func() {
	l.mu.Lock()
	entry, ok := l.entries[documentID]
	if !ok {
		entry = &lockEntry{}
		l.entries[documentID] = entry
	}
	entry.holders++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.holders--
		if entry.holders == 0 {
			delete(l.entries, documentID)
		}
		l.mu.Unlock()
	}
}
