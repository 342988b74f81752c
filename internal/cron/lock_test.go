package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type memoryLockStore struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func newMemoryLockStore() *memoryLockStore {
	return &memoryLockStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryLockStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryLockStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryLockStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if _, ok := m.values[key]; !ok {
		return false, nil
	}
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryLockStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func TestRedisLockExcludesSecondWorker(t *testing.T) {
	store := newMemoryLockStore()
	first, err := NewRedisLock(store, "cs:sync-worker:lock:test", 0)
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}
	second, err := NewRedisLock(store, "cs:sync-worker:lock:test", 0)
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}

	ok, err := first.Acquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if store.ttls["cs:sync-worker:lock:test"] != defaultLockTTL {
		t.Fatalf("expected default ttl, got %s", store.ttls["cs:sync-worker:lock:test"])
	}
	ok, err = second.Acquire(context.Background())
	if err != nil || ok {
		t.Fatalf("second acquire should fail: ok=%v err=%v", ok, err)
	}

	// A non-owner release must leave the holder's key alone.
	if err := second.Release(context.Background()); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if _, held := store.values["cs:sync-worker:lock:test"]; !held {
		t.Fatal("non-owner released the lock")
	}
	if err := first.Release(context.Background()); err != nil {
		t.Fatalf("first release: %v", err)
	}
	ok, err = second.Acquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("reacquire: ok=%v err=%v", ok, err)
	}
}

func TestRedisLockRefreshDetectsTakeover(t *testing.T) {
	store := newMemoryLockStore()
	lock, err := NewRedisLock(store, "cs:sync-worker:lock:test", time.Minute)
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}
	if err := lock.Refresh(context.Background()); !errors.Is(err, ErrLockLost) {
		t.Fatalf("refresh before acquire should report lost, got %v", err)
	}
	if ok, err := lock.Acquire(context.Background()); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	store.ttls["cs:sync-worker:lock:test"] = time.Second
	if err := lock.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if store.ttls["cs:sync-worker:lock:test"] != time.Minute {
		t.Fatalf("expected ttl restored, got %s", store.ttls["cs:sync-worker:lock:test"])
	}

	store.values["cs:sync-worker:lock:test"] = "other-worker:abc"
	if err := lock.Refresh(context.Background()); !errors.Is(err, ErrLockLost) {
		t.Fatalf("expected ErrLockLost after takeover, got %v", err)
	}
	if err := lock.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if store.values["cs:sync-worker:lock:test"] != "other-worker:abc" {
		t.Fatal("release removed another worker's lock")
	}
}

func TestRedisLockRequiresKey(t *testing.T) {
	if _, err := NewRedisLock(newMemoryLockStore(), "", time.Minute); err == nil {
		t.Fatal("expected missing key error")
	}
}
