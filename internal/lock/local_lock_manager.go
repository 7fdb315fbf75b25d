package lock

import (
	"context"
	"sync"
	"time"
)

// LocalLockManager serializes holders inside one process. It backs the memory
// storage driver, where no shared backend exists.
type LocalLockManager struct {
	mu   sync.Mutex
	held map[int]bool
}

var _ DistributedLockManager = (*LocalLockManager)(nil)

func NewLocalLockManager() *LocalLockManager {
	return &LocalLockManager{held: make(map[int]bool)}
}

func (l *LocalLockManager) Acquire(ctx context.Context, lockID int) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		l.mu.Lock()
		if !l.held[lockID] {
			l.held[lockID] = true
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// TryAcquire is re-entrant: a caller that already holds lockID gets true.
// All callers in one process share the manager, so it cannot tell them apart.
func (l *LocalLockManager) TryAcquire(ctx context.Context, lockID int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held[lockID] = true
	return true, nil
}

func (l *LocalLockManager) Release(_ context.Context, lockID int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held[lockID] {
		return ErrLockNotHeld
	}
	delete(l.held, lockID)
	return nil
}
