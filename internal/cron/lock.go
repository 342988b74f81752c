package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/channelstock-backend/pkg/instance"
)

// defaultLockTTL stays under the default interval so a crashed holder frees
// the next cycle.
const defaultLockTTL = 14 * time.Minute

// ErrLockLost is returned by Refresh when another worker owns the key.
var ErrLockLost = errors.New("sweep lock lost")

// Lock coordinates exclusive sweep cycles across sync workers.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Refresher is implemented by locks that can extend a held lease.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisLock is a lease on one Redis key. The value names the owning worker
// so operators can see who holds a stuck sweep.
type RedisLock struct {
	store lockStore
	key   string
	ttl   time.Duration
	owner string
}

func NewRedisLock(store lockStore, key string, ttl time.Duration) (*RedisLock, error) {
	if store == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, key: key, ttl: ttl}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := instance.Owner(uuid.NewString())
	ok, err := l.store.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", l.key, err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

// Refresh extends the lease by the full TTL while this worker still owns it.
func (l *RedisLock) Refresh(ctx context.Context) error {
	held, err := l.ownedBySelf(ctx)
	if err != nil {
		return err
	}
	if !held {
		return ErrLockLost
	}
	extended, err := l.store.Expire(ctx, l.key, l.ttl)
	if err != nil {
		return fmt.Errorf("expire %s: %w", l.key, err)
	}
	if !extended {
		l.owner = ""
		return ErrLockLost
	}
	return nil
}

// Release deletes the key only when this worker still owns it.
func (l *RedisLock) Release(ctx context.Context) error {
	held, err := l.ownedBySelf(ctx)
	if err != nil || !held {
		return err
	}
	if err := l.store.Del(ctx, l.key); err != nil {
		return fmt.Errorf("del %s: %w", l.key, err)
	}
	l.owner = ""
	return nil
}

func (l *RedisLock) ownedBySelf(ctx context.Context) (bool, error) {
	if l.owner == "" {
		return false, nil
	}
	value, err := l.store.Get(ctx, l.key)
	if errors.Is(err, redis.Nil) {
		l.owner = ""
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read lock owner: %w", err)
	}
	return value == l.owner, nil
}
