package jobs

import (
	"context"
	"sync"
)

// Locker guards the one-active-job-per-website invariant. owner is the job id
// holding the lock so only that job can release it.
type Locker interface {
	TryLock(ctx context.Context, key, owner string) (bool, error)
	Unlock(ctx context.Context, key, owner string) error
}

// MemoryLocker is the single-process Locker.
type MemoryLocker struct {
	mu     sync.Mutex
	owners map[string]string
}

// NewMemoryLocker returns an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{owners: make(map[string]string)}
}

// TryLock takes key for owner. Re-locking by the current owner succeeds.
func (l *MemoryLocker) TryLock(_ context.Context, key, owner string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if current, ok := l.owners[key]; ok && current != owner {
		return false, nil
	}
	l.owners[key] = owner
	return true, nil
}

// Unlock releases key if owner still holds it.
func (l *MemoryLocker) Unlock(_ context.Context, key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owners[key] == owner {
		delete(l.owners, key)
	}
	return nil
}
