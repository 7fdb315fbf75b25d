package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockManager_AcquireBlocksUntilRelease(t *testing.T) {
	m := NewLocalLockManager()
	ctx := context.Background()
	require.NoError(t, m.Acquire(ctx, 1))

	acquired := make(chan struct{})
	go func() {
		if err := m.Acquire(ctx, 1); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire returned while the lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, m.Release(ctx, 1))
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire did not return after release")
	}
}

func TestLocalLockManager_AcquireHonorsContext(t *testing.T) {
	m := NewLocalLockManager()
	require.NoError(t, m.Acquire(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Acquire(ctx, 1), context.DeadlineExceeded)
}

func TestLocalLockManager_ReleaseNotHeld(t *testing.T) {
	m := NewLocalLockManager()
	assert.ErrorIs(t, m.Release(context.Background(), 7), ErrLockNotHeld)

	ok, err := m.TryAcquire(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, m.Release(context.Background(), 7))
}
