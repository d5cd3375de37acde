package store

import "sync"

// tableLocks hands out one mutex per table so that local writes and pull
// merges touching the same table never interleave.
type tableLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newTableLocks() *tableLocks {
	return &tableLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *tableLocks) lock(table string) func() {
	l.mu.Lock()
	m, ok := l.locks[table]
	if !ok {
		m = &sync.Mutex{}
		l.locks[table] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
