package lock

import (
	"context"
	"errors"
)

var ErrLockNotHeld = errors.New("lock not held by this manager")

// DistributedLockManager serializes work across processes sharing one backend.
// Acquire blocks until the lock is taken or ctx is done; TryAcquire returns false
// immediately when another holder owns it.
type DistributedLockManager interface {
	Acquire(ctx context.Context, lockID int) error
	TryAcquire(ctx context.Context, lockID int) (bool, error)
	Release(ctx context.Context, lockID int) error
}
