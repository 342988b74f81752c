package allocation

import (
	"context"
	"sync"
	"testing"
	"time"

	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
)

func TestLocalLockerBlocksSameKey(t *testing.T) {
	locker := NewLocalLocker()
	unlock, err := locker.Lock(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, "p-1"); !pkgerrors.Is(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict while held, got %v", err)
	}

	other, err := locker.Lock(context.Background(), "p-2")
	if err != nil {
		t.Fatalf("other key should not block: %v", err)
	}
	other()

	unlock()
	unlock()
	again, err := locker.Lock(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	again()

	if len(locker.slots) != 0 {
		t.Fatalf("expected slots to be released, got %d", len(locker.slots))
	}
}

func TestLocalLockerSerializesWaiters(t *testing.T) {
	locker := NewLocalLocker()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "p")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("expected exclusive access, saw %d holders", maxSeen)
	}
}

func TestNewRedisLockerValidates(t *testing.T) {
	if _, err := NewRedisLocker(nil, nil, time.Second, 0); err == nil {
		t.Fatalf("expected nil client to fail")
	}
}
