package redis

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/quantleaf/crossarb/internal/domain"
)

// releaseLua deletes a lock key only when its value still carries the
// holder's token, so an expired-and-reacquired lock is never released by
// the previous holder.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager hands out distributed locks backed by SET NX with a TTL.
// The archiver takes one before pruning so concurrent instances never
// double-archive the same rows.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.Underlying(),
		release: redis.NewScript(releaseLua),
	}
}

// Lock is one held distributed lock. It expires on its own after the TTL;
// Release returns it early.
type Lock struct {
	rdb      *redis.Client
	script   *redis.Script
	key      string
	token    string
	released atomic.Bool
}

// Acquire takes the lock for key with the given TTL, or returns
// domain.ErrLockHeld when another holder has it.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	lock := &Lock{
		rdb:    lm.rdb,
		script: lm.release,
		key:    "crossarb:lock:" + key,
		token:  uuid.NewString(),
	}

	ok, err := lm.rdb.SetNX(ctx, lock.key, lock.token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}
	return lock, nil
}

// Release returns the lock if this holder still owns it. Safe to call more
// than once, and independent of the acquiring context so shutdown paths can
// still unlock.
func (l *Lock) Release() {
	if l.released.Swap(true) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = l.script.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
}
