package allocation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"

	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
)

// Locker serializes allocation passes per product.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LocalLocker is an in-process keyed mutex. Waiters honour ctx cancellation.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker builds an empty keyed mutex.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: map[string]*slot{}}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, s)
		return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, ctx.Err(), "allocation already in progress")
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.drop(key, s)
		})
	}, nil
}

func (l *LocalLocker) drop(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// RedisLocker guards passes across instances with bsm/redislock.
type RedisLocker struct {
	client  *redislock.Client
	keyFn   func(string) string
	ttl     time.Duration
	wait    time.Duration
	backoff time.Duration
}

// NewRedisLocker builds a distributed locker. keyFn namespaces lock keys.
func NewRedisLocker(client redislock.RedisClient, keyFn func(string) string, ttl, wait time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	if keyFn == nil {
		keyFn = func(key string) string { return key }
	}
	return &RedisLocker{
		client:  redislock.New(client),
		keyFn:   keyFn,
		ttl:     ttl,
		wait:    wait,
		backoff: 50 * time.Millisecond,
	}, nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	obtainCtx := ctx
	strategy := redislock.NoRetry()
	if l.wait > 0 {
		var cancel context.CancelFunc
		obtainCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
		strategy = redislock.LinearBackoff(l.backoff)
	}

	lock, err := l.client.Obtain(obtainCtx, l.keyFn(key), l.ttl, &redislock.Options{RetryStrategy: strategy})
	if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "allocation already in progress")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "obtain allocation lock")
	}

	return func() {
		// release outlives the caller's ctx
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = lock.Release(releaseCtx)
	}, nil
}
