package synctracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/angelmondragon/channelstock-backend/pkg/config"
	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
	"github.com/angelmondragon/channelstock-backend/pkg/logger"
	"github.com/angelmondragon/channelstock-backend/pkg/redis"
)

const (
	defaultFastSize        = 512
	defaultFastRetention   = 5 * time.Minute
	defaultSharedRetention = 24 * time.Hour
)

// Options configures a Tracker. Shared may be nil when Redis is not wired.
type Options struct {
	Repo            *Repository
	Shared          redis.JSONStore
	KeyFunc         func(syncID string) string
	Logger          *logger.Logger
	FastSize        int
	FastRetention   time.Duration
	SharedRetention time.Duration
}

// OptionsFromConfig copies cache sizing from the sync section.
func OptionsFromConfig(cfg config.SyncConfig) Options {
	return Options{
		FastSize:        cfg.FastCacheSize,
		FastRetention:   cfg.FastRetention,
		SharedRetention: cfg.SharedRetention,
	}
}

// Tracker records the progress of sync batches across an in-process cache,
// a shared Redis layer and the database. A single Tracker is the only writer
// for the operations it starts.
type Tracker struct {
	repo            *Repository
	shared          redis.JSONStore
	keyFn           func(string) string
	logg            *logger.Logger
	fast            *lru.Cache[uuid.UUID, Snapshot]
	fastRetention   time.Duration
	sharedRetention time.Duration
	now             func() time.Time

	writeMu sync.Mutex

	timerMu sync.Mutex
	timers  map[uuid.UUID]*time.Timer
	closed  bool
}

func New(opts Options) (*Tracker, error) {
	if opts.Repo == nil {
		return nil, errors.New("sync repository is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	size := opts.FastSize
	if size <= 0 {
		size = defaultFastSize
	}
	fast, err := lru.New[uuid.UUID, Snapshot](size)
	if err != nil {
		return nil, err
	}
	keyFn := opts.KeyFunc
	if keyFn == nil {
		keyFn = func(id string) string { return "cs:sync:status:" + id }
	}
	fastRetention := opts.FastRetention
	if fastRetention <= 0 {
		fastRetention = defaultFastRetention
	}
	sharedRetention := opts.SharedRetention
	if sharedRetention <= 0 {
		sharedRetention = defaultSharedRetention
	}
	return &Tracker{
		repo:            opts.Repo,
		shared:          opts.Shared,
		keyFn:           keyFn,
		logg:            opts.Logger,
		fast:            fast,
		fastRetention:   fastRetention,
		sharedRetention: sharedRetention,
		now:             func() time.Time { return time.Now().UTC() },
		timers:          map[uuid.UUID]*time.Timer{},
	}, nil
}

// Start registers a running operation in every layer.
func (t *Tracker) Start(ctx context.Context, syncID, storeID uuid.UUID, syncType enums.SyncType, totalChannels int) (Snapshot, error) {
	if syncID == uuid.Nil || storeID == uuid.Nil {
		return Snapshot{}, pkgerrors.New(pkgerrors.CodeValidation, "sync id and store id are required")
	}
	if totalChannels < 0 {
		return Snapshot{}, pkgerrors.New(pkgerrors.CodeValidation, "total channels must be non-negative")
	}
	if syncType == "" {
		syncType = enums.SyncTypeInventory
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	snap := Snapshot{
		SyncID:        syncID,
		StoreID:       storeID,
		SyncType:      syncType,
		Status:        enums.SyncStatusRunning,
		TotalChannels: totalChannels,
		Results:       []models.ChannelResult{},
		StartedAt:     t.now(),
	}
	op := snap.toModel()
	if err := t.repo.Create(ctx, &op); err != nil {
		return Snapshot{}, err
	}
	t.publish(ctx, snap)
	return snap.clone(), nil
}

// UpdateChannelProgress appends one channel outcome. The operation finishes
// itself once every channel has reported.
func (t *Tracker) UpdateChannelProgress(ctx context.Context, syncID, channelID uuid.UUID, result models.ChannelResult) (Snapshot, error) {
	result.ChannelID = channelID
	return t.mutate(ctx, syncID, func(snap *Snapshot, now time.Time) error {
		if snap.CompletedChannels >= snap.TotalChannels {
			return pkgerrors.New(pkgerrors.CodeInvalidStateTransition, "all channels already reported")
		}
		snap.Results = append(snap.Results, result)
		snap.recount()
		if snap.CompletedChannels == snap.TotalChannels {
			snap.finish(now)
		}
		return nil
	})
}

// Complete finalizes an operation from the full result list. Completing an
// operation that already finished returns its stored state.
func (t *Tracker) Complete(ctx context.Context, syncID uuid.UUID, results []models.ChannelResult) (Snapshot, error) {
	snap, err := t.mutate(ctx, syncID, func(snap *Snapshot, now time.Time) error {
		if results != nil {
			snap.Results = append([]models.ChannelResult(nil), results...)
		}
		if snap.TotalChannels < len(snap.Results) {
			snap.TotalChannels = len(snap.Results)
		}
		snap.recount()
		snap.Progress = 100
		snap.finish(now)
		return nil
	})
	if pkgerrors.Is(err, pkgerrors.CodeInvalidStateTransition) {
		current, getErr := t.Get(ctx, syncID)
		if getErr == nil && current.Status.IsTerminal() {
			return current, nil
		}
	}
	return snap, err
}

// Fail marks a running operation as failed.
func (t *Tracker) Fail(ctx context.Context, syncID uuid.UUID, cause error) (Snapshot, error) {
	return t.mutate(ctx, syncID, func(snap *Snapshot, now time.Time) error {
		snap.Status = enums.SyncStatusFailed
		if cause != nil {
			snap.Error = cause.Error()
		}
		snap.stop(now)
		return nil
	})
}

// Cancel stops a running operation. The orchestrator observes it between
// channels through IsCancelled.
func (t *Tracker) Cancel(ctx context.Context, syncID uuid.UUID, reason string) (Snapshot, error) {
	return t.mutate(ctx, syncID, func(snap *Snapshot, now time.Time) error {
		snap.Status = enums.SyncStatusCancelled
		if reason == "" {
			reason = "cancelled"
		}
		snap.Error = reason
		snap.stop(now)
		return nil
	})
}

// IsCancelled skips the in-process cache so a cancel issued by another
// instance is seen.
func (t *Tracker) IsCancelled(ctx context.Context, syncID uuid.UUID) (bool, error) {
	if snap, ok := t.sharedSnapshot(ctx, syncID); ok {
		return snap.Status == enums.SyncStatusCancelled, nil
	}
	op, err := t.repo.Find(ctx, syncID)
	if err != nil {
		return false, err
	}
	return op.Status == enums.SyncStatusCancelled, nil
}

// Get reads through fast, shared and durable layers, back-filling the
// faster ones on a miss. A running fast copy is checked against the shared
// layer, where another instance may have ended the operation.
func (t *Tracker) Get(ctx context.Context, syncID uuid.UUID) (Snapshot, error) {
	if snap, ok := t.fast.Get(syncID); ok {
		if snap.Status == enums.SyncStatusRunning {
			if shared, found := t.sharedSnapshot(ctx, syncID); found && shared.Status.IsTerminal() {
				t.remember(shared)
				return shared.clone(), nil
			}
		}
		return snap.clone(), nil
	}
	if snap, ok := t.sharedSnapshot(ctx, syncID); ok {
		t.remember(snap)
		return snap.clone(), nil
	}
	op, err := t.repo.Find(ctx, syncID)
	if err != nil {
		return Snapshot{}, err
	}
	snap := fromModel(*op)
	t.publish(ctx, snap)
	return snap.clone(), nil
}

// sharedSnapshot reads the Redis copy. Read errors count as a miss.
func (t *Tracker) sharedSnapshot(ctx context.Context, syncID uuid.UUID) (Snapshot, bool) {
	if t.shared == nil {
		return Snapshot{}, false
	}
	var snap Snapshot
	found, err := t.shared.GetJSON(ctx, t.keyFn(syncID.String()), &snap)
	if err != nil {
		t.logg.Warn(t.logg.WithField(ctx, "error", err.Error()), "sync shared cache read failed")
		return Snapshot{}, false
	}
	return snap, found
}

// ListRecent returns the newest operations of a store from the database.
func (t *Tracker) ListRecent(ctx context.Context, storeID uuid.UUID, limit int) ([]Snapshot, error) {
	ops, err := t.repo.ListRecent(ctx, storeID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(ops))
	for _, op := range ops {
		out = append(out, fromModel(op))
	}
	return out, nil
}

// Close stops pending evictions and empties the fast layer.
func (t *Tracker) Close() {
	t.timerMu.Lock()
	t.closed = true
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	t.timerMu.Unlock()
	t.fast.Purge()
}

func (t *Tracker) mutate(ctx context.Context, syncID uuid.UUID, fn func(*Snapshot, time.Time) error) (Snapshot, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	snap, err := t.load(ctx, syncID)
	if err != nil {
		return Snapshot{}, err
	}
	if snap.Status != enums.SyncStatusRunning {
		return Snapshot{}, pkgerrors.New(pkgerrors.CodeInvalidStateTransition, "sync operation is not running").
			WithDetails(map[string]any{"status": snap.Status})
	}
	if err := fn(&snap, t.now()); err != nil {
		return Snapshot{}, err
	}
	if err := t.repo.SaveRunning(ctx, snap.toModel()); err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeInvalidStateTransition) {
			// another instance finished or cancelled it; drop the stale copy
			t.fast.Remove(syncID)
		}
		return Snapshot{}, err
	}
	t.publish(ctx, snap)
	return snap.clone(), nil
}

// load prefers the durable copy for writes unless the fast layer holds it.
func (t *Tracker) load(ctx context.Context, syncID uuid.UUID) (Snapshot, error) {
	if snap, ok := t.fast.Get(syncID); ok {
		return snap.clone(), nil
	}
	op, err := t.repo.Find(ctx, syncID)
	if err != nil {
		return Snapshot{}, err
	}
	return fromModel(*op), nil
}

func (t *Tracker) publish(ctx context.Context, snap Snapshot) {
	t.remember(snap)
	if t.shared == nil {
		return
	}
	if err := t.shared.SetJSON(ctx, t.keyFn(snap.SyncID.String()), snap, t.sharedRetention); err != nil {
		t.logg.Warn(t.logg.WithSyncID(t.logg.WithField(ctx, "error", err.Error()), snap.SyncID.String()), "sync shared cache write failed")
	}
}

func (t *Tracker) remember(snap Snapshot) {
	t.fast.Add(snap.SyncID, snap.clone())
	if snap.Status.IsTerminal() {
		t.scheduleEviction(snap.SyncID)
	}
}

func (t *Tracker) scheduleEviction(syncID uuid.UUID) {
	t.timerMu.Lock()
	defer t.timerMu.Unlock()
	if t.closed {
		return
	}
	if _, ok := t.timers[syncID]; ok {
		return
	}
	t.timers[syncID] = time.AfterFunc(t.fastRetention, func() {
		t.fast.Remove(syncID)
		t.timerMu.Lock()
		delete(t.timers, syncID)
		t.timerMu.Unlock()
	})
}
