package synctracker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/channelstock-backend/pkg/db/dbtest"
	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
	"github.com/angelmondragon/channelstock-backend/pkg/logger"
)

type memoryStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	ttls    map[string]time.Duration
	failGet bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) SetJSON(_ context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = payload
	m.ttls[key] = ttl
	return nil
}

func (m *memoryStore) GetJSON(_ context.Context, key string, dest any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return false, errors.New("connection refused")
	}
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

type clock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.cur = c.cur.Add(d)
	c.mu.Unlock()
}

type harness struct {
	repo   *Repository
	shared *memoryStore
	clock  *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		repo:   NewRepository(dbtest.Open(t)),
		shared: newMemoryStore(),
		clock:  &clock{cur: dbtest.Epoch},
	}
}

func (h *harness) tracker(t *testing.T, mutate ...func(*Options)) *Tracker {
	t.Helper()
	opts := Options{
		Repo:            h.repo,
		Shared:          h.shared,
		Logger:          logger.Nop(),
		FastSize:        16,
		FastRetention:   time.Hour,
		SharedRetention: 24 * time.Hour,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	tr, err := New(opts)
	require.NoError(t, err)
	tr.now = h.clock.now
	t.Cleanup(tr.Close)
	return tr
}

func result(success bool) models.ChannelResult {
	r := models.ChannelResult{Success: success, TotalProcessed: 2, DurationMS: 15}
	if success {
		r.Successful = 2
	} else {
		r.Failed = 2
		r.Error = "channel rejected batch"
		r.ErrorCode = string(pkgerrors.CodeConnector)
	}
	return r
}

func TestNewRequiresRepositoryAndLogger(t *testing.T) {
	_, err := New(Options{Logger: logger.Nop()})
	require.Error(t, err)
	_, err = New(Options{Repo: &Repository{}})
	require.Error(t, err)
}

func TestProgressFinishesWithErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tr := h.tracker(t)
	syncID, storeID := uuid.New(), uuid.New()

	snap, err := tr.Start(ctx, syncID, storeID, enums.SyncTypeInventory, 4)
	require.NoError(t, err)
	require.Equal(t, enums.SyncStatusRunning, snap.Status)
	require.Equal(t, 0, snap.Progress)
	require.True(t, h.shared.has("cs:sync:status:"+syncID.String()))
	require.Equal(t, 24*time.Hour, h.shared.ttls["cs:sync:status:"+syncID.String()])

	outcomes := []bool{true, false, true, true}
	wantProgress := []int{25, 50, 75, 100}
	for i, ok := range outcomes {
		h.clock.advance(time.Second)
		snap, err = tr.UpdateChannelProgress(ctx, syncID, uuid.New(), result(ok))
		require.NoError(t, err)
		require.Equal(t, wantProgress[i], snap.Progress)
		require.Equal(t, i+1, snap.CompletedChannels)
	}

	require.Equal(t, enums.SyncStatusCompletedWithErrors, snap.Status)
	require.Equal(t, 3, snap.SuccessCount)
	require.Equal(t, 1, snap.FailureCount)
	require.NotNil(t, snap.CompletedAt)
	require.NotNil(t, snap.DurationMS)
	require.Equal(t, int64(4000), *snap.DurationMS)
	require.Len(t, snap.Results, 4)

	stored, err := h.repo.Find(ctx, syncID)
	require.NoError(t, err)
	require.Equal(t, enums.SyncStatusCompletedWithErrors, stored.Status)
	require.Equal(t, 100, stored.Progress)
	require.Len(t, stored.Results.Data(), 4)

	_, err = tr.UpdateChannelProgress(ctx, syncID, uuid.New(), result(true))
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidStateTransition), "got %v", err)
}

func TestProgressRoundsToNearestPercent(t *testing.T) {
	ctx := context.Background()
	tr := newHarness(t).tracker(t)
	syncID := uuid.New()

	_, err := tr.Start(ctx, syncID, uuid.New(), enums.SyncTypeInventory, 3)
	require.NoError(t, err)
	snap, err := tr.UpdateChannelProgress(ctx, syncID, uuid.New(), result(true))
	require.NoError(t, err)
	require.Equal(t, 33, snap.Progress)
	snap, err = tr.UpdateChannelProgress(ctx, syncID, uuid.New(), result(true))
	require.NoError(t, err)
	require.Equal(t, 67, snap.Progress)
	require.Equal(t, enums.SyncStatusRunning, snap.Status)
	snap, err = tr.UpdateChannelProgress(ctx, syncID, uuid.New(), result(true))
	require.NoError(t, err)
	require.Equal(t, enums.SyncStatusCompleted, snap.Status)
}

func TestStartRejectsDuplicateSyncID(t *testing.T) {
	ctx := context.Background()
	tr := newHarness(t).tracker(t)
	syncID := uuid.New()

	_, err := tr.Start(ctx, syncID, uuid.New(), enums.SyncTypeInventory, 1)
	require.NoError(t, err)
	_, err = tr.Start(ctx, syncID, uuid.New(), enums.SyncTypeInventory, 1)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeConflict), "got %v", err)
}

func TestStartValidatesInput(t *testing.T) {
	tr := newHarness(t).tracker(t)
	_, err := tr.Start(context.Background(), uuid.Nil, uuid.New(), enums.SyncTypeInventory, 1)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
	_, err = tr.Start(context.Background(), uuid.New(), uuid.New(), enums.SyncTypeInventory, -1)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestCompleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tr := h.tracker(t)
	syncID := uuid.New()

	_, err := tr.Start(ctx, syncID, uuid.New(), enums.SyncTypeInventory, 2)
	require.NoError(t, err)
	h.clock.advance(1500 * time.Millisecond)

	first, err := tr.Complete(ctx, syncID, []models.ChannelResult{result(true), result(true)})
	require.NoError(t, err)
	require.Equal(t, enums.SyncStatusCompleted, first.Status)
	require.Equal(t, 100, first.Progress)
	require.Equal(t, int64(1500), *first.DurationMS)

	h.clock.advance(time.Minute)
	second, err := tr.Complete(ctx, syncID, nil)
	require.NoError(t, err)
	require.Equal(t, enums.SyncStatusCompleted, second.Status)
	require.Equal(t, int64(1500), *second.DurationMS)
}

func TestCompleteWithoutChannels(t *testing.T) {
	ctx := context.Background()
	tr := newHarness(t).tracker(t)
	syncID := uuid.New()

	_, err := tr.Start(ctx, syncID, uuid.New(), enums.SyncTypeInventory, 0)
	require.NoError(t, err)
	snap, err := tr.Complete(ctx, syncID, nil)
	require.NoError(t, err)
	require.Equal(t, enums.SyncStatusCompleted, snap.Status)
	require.Equal(t, 100, snap.Progress)
	require.Empty(t, snap.Results)
}

func TestCancelOnlyFromRunning(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tr := h.tracker(t)
	syncID := uuid.New()

	_, err := tr.Start(ctx, syncID, uuid.New(), enums.SyncTypeInventory, 2)
	require.NoError(t, err)

	cancelled, err := tr.IsCancelled(ctx, syncID)
	require.NoError(t, err)
	require.False(t, cancelled)

	snap, err := tr.Cancel(ctx, syncID, "operator request")
	require.NoError(t, err)
	require.Equal(t, enums.SyncStatusCancelled, snap.Status)
	require.Equal(t, "operator request", snap.Error)

	cancelled, err = tr.IsCancelled(ctx, syncID)
	require.NoError(t, err)
	require.True(t, cancelled)

	_, err = tr.Cancel(ctx, syncID, "again")
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidStateTransition), "got %v", err)
	_, err = tr.UpdateChannelProgress(ctx, syncID, uuid.New(), result(true))
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidStateTransition), "got %v", err)
}

func TestCancelFromOtherInstanceStopsWriter(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	writer := h.tracker(t)
	api := h.tracker(t)
	syncID := uuid.New()

	_, err := writer.Start(ctx, syncID, uuid.New(), enums.SyncTypeInventory, 3)
	require.NoError(t, err)
	_, err = writer.UpdateChannelProgress(ctx, syncID, uuid.New(), result(true))
	require.NoError(t, err)

	_, err = api.Cancel(ctx, syncID, "")
	require.NoError(t, err)

	cancelled, err := writer.IsCancelled(ctx, syncID)
	require.NoError(t, err)
	require.True(t, cancelled)

	// the writer still holds a running copy in its fast cache
	_, err = writer.UpdateChannelProgress(ctx, syncID, uuid.New(), result(true))
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidStateTransition), "got %v", err)

	snap, err := writer.Get(ctx, syncID)
	require.NoError(t, err)
	require.Equal(t, enums.SyncStatusCancelled, snap.Status)
	require.Equal(t, 1, snap.CompletedChannels)
}

func TestGetSeesCancelFromOtherInstance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	writer := h.tracker(t)
	api := h.tracker(t)
	syncID := uuid.New()

	_, err := writer.Start(ctx, syncID, uuid.New(), enums.SyncTypeInventory, 2)
	require.NoError(t, err)
	_, err = api.Cancel(ctx, syncID, "operator stop")
	require.NoError(t, err)

	snap, err := writer.Get(ctx, syncID)
	require.NoError(t, err)
	require.Equal(t, enums.SyncStatusCancelled, snap.Status)
	require.Equal(t, "operator stop", snap.Error)

	cached, ok := writer.fast.Get(syncID)
	require.True(t, ok)
	require.Equal(t, enums.SyncStatusCancelled, cached.Status)
}

func TestGetKeepsRunningCopyWhenSharedLayerFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tr := h.tracker(t)
	syncID := uuid.New()

	_, err := tr.Start(ctx, syncID, uuid.New(), enums.SyncTypeInventory, 2)
	require.NoError(t, err)
	h.shared.failGet = true

	snap, err := tr.Get(ctx, syncID)
	require.NoError(t, err)
	require.Equal(t, enums.SyncStatusRunning, snap.Status)
}

func TestFailRecordsError(t *testing.T) {
	ctx := context.Background()
	tr := newHarness(t).tracker(t)
	syncID := uuid.New()

	_, err := tr.Start(ctx, syncID, uuid.New(), enums.SyncTypeChannel, 1)
	require.NoError(t, err)
	snap, err := tr.Fail(ctx, syncID, errors.New("credentials revoked"))
	require.NoError(t, err)
	require.Equal(t, enums.SyncStatusFailed, snap.Status)
	require.Equal(t, "credentials revoked", snap.Error)
	require.NotNil(t, snap.CompletedAt)

	_, err = tr.Fail(ctx, syncID, errors.New("again"))
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidStateTransition))
}

func TestGetReadsThroughSharedLayer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	writer := h.tracker(t)
	syncID := uuid.New()

	_, err := writer.Start(ctx, syncID, uuid.New(), enums.SyncTypeInventory, 2)
	require.NoError(t, err)
	_, err = writer.UpdateChannelProgress(ctx, syncID, uuid.New(), result(true))
	require.NoError(t, err)

	reader := h.tracker(t)
	snap, err := reader.Get(ctx, syncID)
	require.NoError(t, err)
	require.Equal(t, 50, snap.Progress)
	require.True(t, reader.fast.Contains(syncID))
}

func TestGetFallsBackToDatabaseAndBackfills(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	writer := h.tracker(t)
	syncID := uuid.New()

	_, err := writer.Start(ctx, syncID, uuid.New(), enums.SyncTypeInventory, 1)
	require.NoError(t, err)
	_, err = writer.UpdateChannelProgress(ctx, syncID, uuid.New(), result(false))
	require.NoError(t, err)

	key := "cs:sync:status:" + syncID.String()
	require.NoError(t, h.shared.Del(ctx, key))

	reader := h.tracker(t)
	snap, err := reader.Get(ctx, syncID)
	require.NoError(t, err)
	require.Equal(t, enums.SyncStatusCompletedWithErrors, snap.Status)
	require.Equal(t, 1, snap.FailureCount)
	require.True(t, h.shared.has(key))
	require.True(t, reader.fast.Contains(syncID))
}

func TestGetIgnoresSharedLayerErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	writer := h.tracker(t)
	syncID := uuid.New()

	_, err := writer.Start(ctx, syncID, uuid.New(), enums.SyncTypeInventory, 1)
	require.NoError(t, err)
	h.shared.failGet = true

	reader := h.tracker(t)
	snap, err := reader.Get(ctx, syncID)
	require.NoError(t, err)
	require.Equal(t, enums.SyncStatusRunning, snap.Status)
}

func TestGetUnknownSync(t *testing.T) {
	tr := newHarness(t).tracker(t)
	_, err := tr.Get(context.Background(), uuid.New())
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound), "got %v", err)
}

func TestTrackerWorksWithoutSharedLayer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tr := h.tracker(t, func(o *Options) { o.Shared = nil })
	syncID := uuid.New()

	_, err := tr.Start(ctx, syncID, uuid.New(), enums.SyncTypeInventory, 1)
	require.NoError(t, err)
	cancelled, err := tr.IsCancelled(ctx, syncID)
	require.NoError(t, err)
	require.False(t, cancelled)
	_, err = tr.UpdateChannelProgress(ctx, syncID, uuid.New(), result(true))
	require.NoError(t, err)
	require.False(t, h.shared.has("cs:sync:status:"+syncID.String()))
}

func TestTerminalSnapshotsLeaveFastCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tr := h.tracker(t, func(o *Options) { o.FastRetention = 20 * time.Millisecond })
	syncID := uuid.New()

	_, err := tr.Start(ctx, syncID, uuid.New(), enums.SyncTypeInventory, 1)
	require.NoError(t, err)
	_, err = tr.UpdateChannelProgress(ctx, syncID, uuid.New(), result(true))
	require.NoError(t, err)
	require.True(t, tr.fast.Contains(syncID))

	require.Eventually(t, func() bool { return !tr.fast.Contains(syncID) }, 2*time.Second, 10*time.Millisecond)

	snap, err := tr.Get(ctx, syncID)
	require.NoError(t, err)
	require.Equal(t, enums.SyncStatusCompleted, snap.Status)
}

func TestCloseStopsPendingEvictions(t *testing.T) {
	ctx := context.Background()
	tr := newHarness(t).tracker(t)
	syncID := uuid.New()

	_, err := tr.Start(ctx, syncID, uuid.New(), enums.SyncTypeInventory, 1)
	require.NoError(t, err)
	_, err = tr.Complete(ctx, syncID, []models.ChannelResult{result(true)})
	require.NoError(t, err)

	tr.timerMu.Lock()
	pending := len(tr.timers)
	tr.timerMu.Unlock()
	require.Equal(t, 1, pending)

	tr.Close()
	tr.timerMu.Lock()
	pending = len(tr.timers)
	tr.timerMu.Unlock()
	require.Zero(t, pending)
	require.Zero(t, tr.fast.Len())
}

func TestListRecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tr := h.tracker(t)
	storeID := uuid.New()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		id := uuid.New()
		ids = append(ids, id)
		_, err := tr.Start(ctx, id, storeID, enums.SyncTypeInventory, 1)
		require.NoError(t, err)
		h.clock.advance(time.Minute)
	}
	_, err := tr.Start(ctx, uuid.New(), uuid.New(), enums.SyncTypeInventory, 1)
	require.NoError(t, err)

	recent, err := tr.ListRecent(ctx, storeID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, ids[2], recent[0].SyncID)
	require.Equal(t, ids[1], recent[1].SyncID)
}

func TestConcurrentProgressUpdates(t *testing.T) {
	ctx := context.Background()
	tr := newHarness(t).tracker(t)
	syncID := uuid.New()
	const channels = 6

	_, err := tr.Start(ctx, syncID, uuid.New(), enums.SyncTypeInventory, channels)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, channels)
	for i := 0; i < channels; i++ {
		wg.Add(1)
		go func(ok bool) {
			defer wg.Done()
			_, err := tr.UpdateChannelProgress(ctx, syncID, uuid.New(), result(ok))
			errs <- err
		}(i%2 == 0)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	snap, err := tr.Get(ctx, syncID)
	require.NoError(t, err)
	require.Equal(t, channels, snap.CompletedChannels)
	require.Equal(t, 3, snap.FailureCount)
	require.Equal(t, enums.SyncStatusCompletedWithErrors, snap.Status)
}
