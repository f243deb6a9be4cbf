package git

import "sync"

// lockTable hands out one RWMutex per repository path. Mutations take the
// write side, reads the read side; different repositories never contend.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: map[string]*sync.RWMutex{}}
}

func (t *lockTable) get(repoPath string) *sync.RWMutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[repoPath]
	if !ok {
		l = &sync.RWMutex{}
		t.locks[repoPath] = l
	}
	return l
}
