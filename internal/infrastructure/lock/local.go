// Package lock serializes writers of one ledger document. LocalLocker covers a
// single process; RedisLocker covers several instances sharing one document root.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/garyjia/receipt-ledger/internal/application/port"
	"github.com/garyjia/receipt-ledger/internal/infrastructure/retry"
)

// ErrLockBusy is returned by a single acquisition attempt on a held key
var ErrLockBusy = errors.New("document lock is held")

func isBusy(err error) bool {
	return errors.Is(err, ErrLockBusy)
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// LocalLocker is an in-process keyed mutex. Acquisition is retried under the
// retry policy and gives up with entity.ErrStorageContention.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
	policy  retry.Policy
}

// NewLocalLocker creates a LocalLocker
func NewLocalLocker(policy retry.Policy) *LocalLocker {
	return &LocalLocker{
		entries: make(map[string]*keyedEntry),
		policy:  policy,
	}
}

// Lock acquires key and returns its release function
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	err := l.policy.Do(ctx, isBusy, func() error {
		return l.tryLock(key)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.unlock(key) })
	}, nil
}

func (l *LocalLocker) tryLock(key string) error {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &keyedEntry{}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	if entry.mu.TryLock() {
		return nil
	}

	l.release(key, entry)
	return ErrLockBusy
}

func (l *LocalLocker) unlock(key string) {
	l.mu.Lock()
	entry := l.entries[key]
	l.mu.Unlock()

	entry.mu.Unlock()
	l.release(key, entry)
}

func (l *LocalLocker) release(key string, entry *keyedEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
}

var _ port.DocumentLocker = (*LocalLocker)(nil)
