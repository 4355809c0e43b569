package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrLocked is returned by TryLock when the lock is already held.
var ErrLocked = errors.New("lock is already held")

// Lock names shared by every process working on the same catalog.
const (
	LockCheck = "iptvwatch:lock:check"
	LockPrune = "iptvwatch:lock:prune"
)

// Locker hands out named, non-blocking exclusive locks. On success the
// returned unlock function MUST be called (typically via defer).
type Locker interface {
	TryLock(ctx context.Context, name string) (unlock func(), err error)
}

// DefaultLockTTL bounds how long a crashed holder can keep a Redis lock.
const DefaultLockTTL = 2 * time.Hour

// RedisLocker implements Locker with the Redis SET NX EX pattern, so
// processes on different hosts sharing one catalog exclude each other.
type RedisLocker struct {
	r   *Redis
	ttl time.Duration
}

// NewRedisLocker returns a RedisLocker whose keys expire after ttl.
func NewRedisLocker(r *Redis, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLocker{r: r, ttl: ttl}
}

func (l *RedisLocker) TryLock(ctx context.Context, name string) (func(), error) {
	return TryLock(ctx, l.r, name, l.ttl)
}

// unlockScript deletes the key only if the token still matches.
const unlockScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`

// TryLock attempts to acquire a distributed lock identified by key.
// If the lock is already held, ErrLocked is returned.
func TryLock(ctx context.Context, r *Redis, key string, ttl time.Duration) (unlock func(), err error) {
	// Random token ensures only the holder can release the lock.
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("cache lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() {
		// Background context so unlock works even if the caller's context is cancelled.
		_ = r.client.Eval(context.Background(), unlockScript, []string{key}, token).Err()
	}, nil
}

// IsLocked returns true if the lock key exists.
func IsLocked(ctx context.Context, r *Redis, key string) bool {
	n, _ := r.client.Exists(ctx, key).Result()
	return n > 0
}
