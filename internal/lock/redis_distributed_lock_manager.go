package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultRedisLockTTL   = 30 * time.Second
	defaultRedisLockRetry = 100 * time.Millisecond
)

// acquireScript takes the key when it is free and extends it when it already
// carries our token.
var acquireScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
if not v then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
return 0
`)

// releaseScript deletes the key only while it still carries our token, so an
// expired lock picked up by another holder is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisDistributedLockManager struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration

	mu     sync.Mutex
	tokens map[int]string
}

var _ DistributedLockManager = (*RedisDistributedLockManager)(nil)

func NewRedisDistributedLockManager(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisDistributedLockManager {
	if ttl <= 0 {
		ttl = DefaultRedisLockTTL
	}
	if prefix == "" {
		prefix = "firequeue:lock:"
	}
	return &RedisDistributedLockManager{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		retry:  defaultRedisLockRetry,
		tokens: make(map[int]string),
	}
}

func (l *RedisDistributedLockManager) Acquire(ctx context.Context, lockID int) error {
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.TryAcquire(ctx, lockID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to acquire lock %d: %w", lockID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// TryAcquire takes lockID for the manager's TTL. Calling it again while holding
// the lock extends the TTL.
func (l *RedisDistributedLockManager) TryAcquire(ctx context.Context, lockID int) (bool, error) {
	l.mu.Lock()
	token, ok := l.tokens[lockID]
	if !ok {
		token = uuid.NewString()
	}
	l.mu.Unlock()

	acquired, err := acquireScript.Run(ctx, l.client, []string{l.key(lockID)}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if acquired == 0 {
		delete(l.tokens, lockID)
		return false, nil
	}
	l.tokens[lockID] = token
	return true, nil
}

func (l *RedisDistributedLockManager) Release(ctx context.Context, lockID int) error {
	l.mu.Lock()
	token, ok := l.tokens[lockID]
	delete(l.tokens, lockID)
	l.mu.Unlock()

	if !ok {
		return fmt.Errorf("failed to release lock %d: %w", lockID, ErrLockNotHeld)
	}

	deleted, err := releaseScript.Run(ctx, l.client, []string{l.key(lockID)}, token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if deleted == 0 {
		return fmt.Errorf("failed to release lock %d: %w", lockID, ErrLockNotHeld)
	}
	return nil
}

func (l *RedisDistributedLockManager) key(lockID int) string {
	return fmt.Sprintf("%s%d", l.prefix, lockID)
}
