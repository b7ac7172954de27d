package escrow

import (
	"bytes"
	"slices"
	"sync"

	"Provability/internal/address"
)

// keyLocks is a keyed mutex over ledger addresses. Entries exist only while held
// or waited on.
type keyLocks struct {
	mu    sync.Mutex
	locks map[address.Address]*keyLock
}

// keyLock is one address mutex with its reference count.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// newKeyLocks creates an empty lock table.
func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[address.Address]*keyLock)}
}

// lock acquires every distinct address in ascending byte order and returns the release
// function. A fixed acquisition order keeps overlapping lock sets deadlock-free.
func (l *keyLocks) lock(addrs ...address.Address) func() {
	keys := slices.Clone(addrs)
	slices.SortFunc(keys, func(a, b address.Address) int {
		return bytes.Compare(a[:], b[:])
	})
	keys = slices.Compact(keys)

	held := make([]*keyLock, len(keys))
	for i, k := range keys {
		held[i] = l.acquire(k)
	}

	return func() {
		for i := len(keys) - 1; i >= 0; i-- {
			l.release(keys[i], held[i])
		}
	}
}

// acquire takes a reference to the entry for k and locks it.
func (l *keyLocks) acquire(k address.Address) *keyLock {
	l.mu.Lock()
	e, ok := l.locks[k]
	if !ok {
		e = &keyLock{}
		l.locks[k] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	return e
}

// release unlocks e and drops the entry once nobody references it.
func (l *keyLocks) release(k address.Address, e *keyLock) {
	e.mu.Unlock()

	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, k)
	}
	l.mu.Unlock()
}

// size returns the number of live entries.
func (l *keyLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.locks)
}
