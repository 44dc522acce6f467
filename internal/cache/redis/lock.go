package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/coinfolio/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes a lock key only if its value matches the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager using Redis SETNX with a TTL and
// a Lua-based conditional unlock. With a positive retry interval Acquire
// waits for a held lock instead of failing.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	retry    time.Duration
}

// NewLockManager creates a LockManager backed by the given Client. retry is
// the polling interval used while waiting for a held lock; zero disables
// waiting.
func NewLockManager(c *Client, retry time.Duration) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
		retry:    retry,
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire obtains the lock for key with the given TTL and returns an
// idempotent unlock function. It returns domain.ErrLockHeld when the lock is
// held and waiting is disabled, or the context error if the wait is
// cancelled.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)

	for {
		ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if lm.retry <= 0 {
			return nil, domain.ErrLockHeld
		}

		timer := time.NewTimer(lm.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("redis: wait lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// The caller's context may already be cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
