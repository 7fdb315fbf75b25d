package lock

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// PostgresDistributedLockManager uses session level advisory locks. Each held
// lock pins the connection it was taken on, since pg_advisory_unlock only
// succeeds on the session that owns the lock.
type PostgresDistributedLockManager struct {
	db    *sql.DB
	mu    sync.Mutex
	conns map[int]*sql.Conn
}

var _ DistributedLockManager = (*PostgresDistributedLockManager)(nil)

func NewPostgresDistributedLockManager(db *sql.DB) *PostgresDistributedLockManager {
	return &PostgresDistributedLockManager{
		db:    db,
		conns: make(map[int]*sql.Conn),
	}
}

func (l *PostgresDistributedLockManager) Acquire(ctx context.Context, lockID int) error {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
		conn.Close()
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	l.hold(lockID, conn)
	return nil
}

// TryAcquire is re-entrant. When this manager already holds lockID it checks the
// pinned session is still alive and still owns the lock, which lets a leader call
// it periodically to check its lease. A dead session loses the lock.
func (l *PostgresDistributedLockManager) TryAcquire(ctx context.Context, lockID int) (bool, error) {
	l.mu.Lock()
	conn, held := l.conns[lockID]
	l.mu.Unlock()
	if held {
		return l.revalidate(ctx, lockID, conn)
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}

	l.hold(lockID, conn)
	return true, nil
}

// revalidate takes lockID again on its pinned session and gives the extra
// acquisition back, so the session keeps holding it exactly once.
func (l *PostgresDistributedLockManager) revalidate(ctx context.Context, lockID int, conn *sql.Conn) (bool, error) {
	var acquired bool
	err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired)
	if err == nil && acquired {
		_, err = conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", lockID)
		if err == nil {
			return true, nil
		}
	}

	l.drop(lockID, conn)
	if err != nil {
		return false, fmt.Errorf("lock %d session lost: %w", lockID, err)
	}
	return false, nil
}

func (l *PostgresDistributedLockManager) Release(ctx context.Context, lockID int) error {
	l.mu.Lock()
	conn, ok := l.conns[lockID]
	delete(l.conns, lockID)
	l.mu.Unlock()

	if !ok {
		return fmt.Errorf("failed to release lock %d: %w", lockID, ErrLockNotHeld)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", lockID); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	return nil
}

func (l *PostgresDistributedLockManager) hold(lockID int, conn *sql.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.conns[lockID]; ok {
		// re-entrant acquire; the older session keeps its lock until closed
		prev.Close()
	}
	l.conns[lockID] = conn
}

func (l *PostgresDistributedLockManager) drop(lockID int, conn *sql.Conn) {
	l.mu.Lock()
	if l.conns[lockID] == conn {
		delete(l.conns, lockID)
	}
	l.mu.Unlock()
	conn.Close()
}
