package lock

import (
	"context"
	"sync"
)

// LocalLocker claims keys within one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]uint64
	next uint64
}

// NewLocalLocker creates an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]uint64)}
}

// Lock claims key if nobody holds it.
func (l *LocalLocker) Lock(_ context.Context, key string) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[key]; taken {
		return nil, false, nil
	}
	l.next++
	token := l.next
	l.held[key] = token

	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key] != token {
			return ErrLockNotHeld
		}
		delete(l.held, key)
		return nil
	}
	return release, true, nil
}

// Held returns the number of keys currently claimed.
func (l *LocalLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
