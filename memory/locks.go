package memory

import "sync"

// userLocks serializes consolidation per user. The classify -> mutate ->
// decay -> prune sequence spans multiple store operations; without this
// lock two concurrent calls for the same user could both observe a full
// node set and both create, breaking the capacity bound. Different users
// proceed fully in parallel.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the given user's mutex, creating it on first use.
// Entries are never removed; the map is bounded by the number of distinct
// users seen by this process.
func (l *userLocks) acquire(userID string) *sync.Mutex {
	l.mu.Lock()
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m
}
