package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// unlockScript deletes the lock only when it still holds our token.
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// refreshScript extends the lock only when it still holds our token.
const refreshScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`

// Locker implements ports.DistributedLocker using Redis.
type Locker struct {
	client   *backend.Client
	prefix   string
	interval time.Duration
}

// NewLocker creates a new Redis locker.
func NewLocker(client *backend.Client, prefix string) *Locker {
	return &Locker{
		client:   client,
		prefix:   prefix,
		interval: 100 * time.Millisecond,
	}
}

func (l *Locker) lockKey(key string) string {
	return l.prefix + "lock:" + key
}

// TryLock acquires the lock with a single SET NX PX, or fails with domain.ErrSessionBusy.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (ports.Lease, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.lockKey(key), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error acquiring lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is locked by another replica", domain.ErrSessionBusy, key)
	}
	return &lease{locker: l, key: key, token: token}, nil
}

// Lock polls until the lock is acquired or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.Lease, error) {
	token := uuid.NewString()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, l.lockKey(key), token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis error acquiring lock: %w", err)
		}
		if ok {
			return &lease{locker: l, key: key, token: token}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// lease is one acquisition of a lock, identified by its random token.
type lease struct {
	locker *Locker
	key    string
	token  string
}

// Refresh runs refreshScript. A zero reply means the key expired or was
// taken by another token.
func (ls *lease) Refresh(ctx context.Context, ttl time.Duration) error {
	n, err := ls.locker.client.Eval(ctx, refreshScript,
		[]string{ls.locker.lockKey(ls.key)}, ls.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis error refreshing lock: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrLockLost, ls.key)
	}
	return nil
}

func (ls *lease) Release(ctx context.Context) error {
	return ls.locker.client.Eval(ctx, unlockScript, []string{ls.locker.lockKey(ls.key)}, ls.token).Err()
}
