package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelstock-backend/internal/conflicts"
	"github.com/angelmondragon/channelstock-backend/internal/connectors"
	"github.com/angelmondragon/channelstock-backend/internal/synctracker"
	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
	"github.com/angelmondragon/channelstock-backend/pkg/outbox"
	"github.com/angelmondragon/channelstock-backend/pkg/outbox/payloads"
)

// SyncOptions tune one batch. Zero values fall back to the service options.
type SyncOptions struct {
	// SyncID lets callers pick the id up front, as StartSync does.
	SyncID      uuid.UUID
	Concurrency int
	AutoResolve *bool
	Actor       *outbox.ActorRef
}

// BatchResult summarizes a batch across every channel.
type BatchResult struct {
	SyncID            uuid.UUID                     `json:"sync_id"`
	StoreID           uuid.UUID                     `json:"store_id"`
	Status            enums.SyncStatus              `json:"status"`
	TotalChannels     int                           `json:"total_channels"`
	SuccessCount      int                           `json:"success_count"`
	FailureCount      int                           `json:"failure_count"`
	Results           []models.ChannelResult        `json:"results"`
	ConflictsDetected int                           `json:"conflicts_detected"`
	AutoResolved      *conflicts.AutoResolveSummary `json:"auto_resolved,omitempty"`
	DurationMS        int64                         `json:"duration_ms"`
}

// ChannelSyncResult is the outcome of one channel push.
type ChannelSyncResult struct {
	ChannelID   uuid.UUID               `json:"channel_id"`
	ChannelType enums.ChannelType       `json:"channel_type"`
	Response    connectors.SyncResponse `json:"response"`
	ProductIDs  []uuid.UUID             `json:"product_ids"`
	Pulled      int                     `json:"pulled"`
	DurationMS  int64                   `json:"duration_ms"`
	mappings    []Mapping
}

// StartSync registers a batch and runs it in the background. The returned
// snapshot is the running state; callers poll the tracker for progress.
func (s *Service) StartSync(ctx context.Context, storeID uuid.UUID, opts SyncOptions) (synctracker.Snapshot, error) {
	if storeID == uuid.Nil {
		return synctracker.Snapshot{}, pkgerrors.New(pkgerrors.CodeValidation, "store id is required")
	}
	channels, err := s.repo.ListSyncableChannels(ctx, storeID)
	if err != nil {
		return synctracker.Snapshot{}, err
	}
	if opts.SyncID == uuid.Nil {
		opts.SyncID = uuid.New()
	}
	snap, err := s.tracker.Start(ctx, opts.SyncID, storeID, enums.SyncTypeInventory, len(channels))
	if err != nil {
		return synctracker.Snapshot{}, err
	}

	// The request context ends with the response; the batch must outlive it.
	bg := context.WithoutCancel(ctx)
	go func() {
		if _, err := s.runBatch(bg, storeID, channels, opts); err != nil {
			s.logg.Error(s.logg.WithSyncID(bg, opts.SyncID.String()), "background sync finished with errors", err)
		}
	}()
	return snap, nil
}

// SyncInventoryAllChannels pushes allocations to every syncable channel of a
// store, then runs conflict detection on the touched products. Channel
// failures are recorded in the results and never abort the batch; the
// returned error aggregates only post-batch failures.
func (s *Service) SyncInventoryAllChannels(ctx context.Context, storeID uuid.UUID, opts SyncOptions) (*BatchResult, error) {
	if storeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store id is required")
	}
	channels, err := s.repo.ListSyncableChannels(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if opts.SyncID == uuid.Nil {
		opts.SyncID = uuid.New()
	}
	if _, err := s.tracker.Start(ctx, opts.SyncID, storeID, enums.SyncTypeInventory, len(channels)); err != nil {
		return nil, err
	}
	return s.runBatch(ctx, storeID, channels, opts)
}

// batchProgress collects channel results and touched product ids from
// concurrent channel pushes.
type batchProgress struct {
	mu      sync.Mutex
	ids     map[uuid.UUID]struct{}
	results []models.ChannelResult
}

func (b *batchProgress) record(result models.ChannelResult, ids []uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results = append(b.results, result)
	for _, id := range ids {
		b.ids[id] = struct{}{}
	}
}

func (b *batchProgress) touched() []uuid.UUID {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]uuid.UUID, 0, len(b.ids))
	for id := range b.ids {
		out = append(out, id)
	}
	return out
}

func (b *batchProgress) collected() []models.ChannelResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.ChannelResult{}, b.results...)
}

func (s *Service) runBatch(ctx context.Context, storeID uuid.UUID, channels []models.Channel, opts SyncOptions) (*BatchResult, error) {
	syncID := opts.SyncID
	ctx = s.logg.WithStoreID(ctx, storeID.String())
	ctx = s.logg.WithSyncID(ctx, syncID.String())
	started := s.now()

	limit := opts.Concurrency
	if limit <= 0 {
		limit = s.opts.Concurrency
	}
	autoResolve := s.opts.AutoResolve
	if opts.AutoResolve != nil {
		autoResolve = *opts.AutoResolve
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"channels":    len(channels),
		"concurrency": limit,
	}), "inventory sync started")

	var (
		stopped  atomic.Bool
		progress = &batchProgress{ids: map[uuid.UUID]struct{}{}}
		g        errgroup.Group
	)
	g.SetLimit(limit)
	for _, channel := range channels {
		g.Go(func() error {
			if stopped.Load() || ctx.Err() != nil || s.cancelled(ctx, syncID) {
				stopped.Store(true)
				return nil
			}
			result, productIDs := s.syncOne(ctx, storeID, syncID, channel)
			progress.record(result, productIDs)
			if _, err := s.tracker.UpdateChannelProgress(ctx, syncID, channel.ID, result); err != nil {
				if pkgerrors.Is(err, pkgerrors.CodeInvalidStateTransition) {
					stopped.Store(true)
					return nil
				}
				s.logg.Error(s.logg.WithChannelID(ctx, channel.ID.String()), "failed to record channel progress", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	// The batch may have been interrupted; the operation still has to reach a
	// terminal status and announce it.
	interrupted := ctx.Err()
	ctx = context.WithoutCancel(ctx)

	var errs error
	batch := &BatchResult{SyncID: syncID, StoreID: storeID}
	ids := progress.touched()
	if interrupted == nil && len(ids) > 0 {
		found, err := s.conflicts.DetectForStore(ctx, storeID, ids)
		errs = multierr.Append(errs, err)
		batch.ConflictsDetected = len(found)
	}
	if autoResolve && batch.ConflictsDetected > 0 {
		summary, err := s.conflicts.AutoResolvePending(ctx, storeID)
		errs = multierr.Append(errs, err)
		if err == nil {
			batch.AutoResolved = &summary
		}
	}

	snap, err := s.tracker.Get(ctx, syncID)
	if err != nil {
		return nil, multierr.Append(errs, err)
	}
	if !snap.Status.IsTerminal() {
		if snap, err = s.finishBatch(ctx, syncID, progress.collected(), interrupted); err != nil {
			return nil, multierr.Append(errs, err)
		}
	}
	batch.Status = snap.Status
	batch.TotalChannels = snap.TotalChannels
	batch.SuccessCount = snap.SuccessCount
	batch.FailureCount = snap.FailureCount
	batch.Results = snap.Results
	batch.DurationMS = s.now().Sub(started).Milliseconds()
	if snap.DurationMS != nil {
		batch.DurationMS = *snap.DurationMS
	}

	errs = multierr.Append(errs, s.emitSyncCompleted(ctx, batch, opts.Actor))
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"status":    batch.Status,
		"succeeded": batch.SuccessCount,
		"failed":    batch.FailureCount,
		"conflicts": batch.ConflictsDetected,
	}), "inventory sync finished")
	return batch, multierr.Append(errs, interrupted)
}

// finishBatch closes an operation the channel loop left running: failed when
// the batch was interrupted, otherwise completed from the collected results.
func (s *Service) finishBatch(ctx context.Context, syncID uuid.UUID, results []models.ChannelResult, interrupted error) (synctracker.Snapshot, error) {
	if interrupted != nil {
		s.logg.Warn(ctx, "inventory sync interrupted; marking failed")
		return s.tracker.Fail(ctx, syncID, fmt.Errorf("sync interrupted: %w", interrupted))
	}
	return s.tracker.Complete(ctx, syncID, results)
}

func (s *Service) cancelled(ctx context.Context, syncID uuid.UUID) bool {
	cancelled, err := s.tracker.IsCancelled(ctx, syncID)
	if err != nil {
		s.logg.Warn(ctx, "cancellation check failed: "+err.Error())
		return false
	}
	if cancelled {
		s.logg.Info(ctx, "sync cancelled; skipping remaining channels")
	}
	return cancelled
}

func (s *Service) emitSyncCompleted(ctx context.Context, batch *BatchResult, actor *outbox.ActorRef) error {
	if actor == nil {
		actor = &outbox.ActorRef{StoreID: batch.StoreID, Source: outbox.SourceWorker}
	}
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSyncCompleted,
			AggregateType: enums.AggregateSync,
			AggregateID:   batch.SyncID,
			Actor:         actor,
			Data: payloads.SyncCompletedEvent{
				SyncID:        batch.SyncID,
				StoreID:       batch.StoreID,
				Status:        batch.Status,
				TotalChannels: batch.TotalChannels,
				SuccessCount:  batch.SuccessCount,
				FailureCount:  batch.FailureCount,
				DurationMS:    batch.DurationMS,
			},
		})
	})
}

// syncOne runs one channel inside the batch and downgrades any failure into
// the channel result.
func (s *Service) syncOne(ctx context.Context, storeID, syncID uuid.UUID, channel models.Channel) (models.ChannelResult, []uuid.UUID) {
	ctx = s.logg.WithChannelID(ctx, channel.ID.String())
	channelCtx, cancel := context.WithTimeout(ctx, s.opts.ChannelTimeout)
	defer cancel()

	started := s.now()
	out, err := s.syncChannel(channelCtx, storeID, channel, &syncID)
	result := models.ChannelResult{
		ChannelID:   channel.ID,
		ChannelType: channel.Type,
		DurationMS:  s.now().Sub(started).Milliseconds(),
	}
	if out != nil {
		result.TotalProcessed = out.Response.TotalProcessed
		result.Successful = out.Response.Successful
		result.Failed = out.Response.Failed
	}
	if err != nil {
		result.Error, result.ErrorCode = describe(err)
		result.Retryable = pkgerrors.Retryable(err)
		if errors.Is(channelCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			result.ErrorCode = string(pkgerrors.CodeConnector)
			result.Retryable = true
			s.recordTimeouts(ctx, storeID, channel, out)
		}
		s.logg.Warn(s.logg.WithField(ctx, "error_code", result.ErrorCode), "channel sync failed: "+result.Error)
	} else {
		result.Success = out.Response.Success
		result.Error = out.Response.Error
	}
	s.metrics.ObserveChannelSync(string(channel.Type), result.Success, time.Duration(result.DurationMS)*time.Millisecond, result.Successful, result.Failed)

	var touched []uuid.UUID
	if out != nil {
		touched = out.ProductIDs
	}
	return result, touched
}

// recordTimeouts raises a sync_timeout conflict for every listing the
// channel was being sent.
func (s *Service) recordTimeouts(ctx context.Context, storeID uuid.UUID, channel models.Channel, out *ChannelSyncResult) {
	if out == nil {
		return
	}
	channelID := channel.ID
	for _, m := range out.mappings {
		_, err := s.conflicts.Record(ctx, conflicts.RecordInput{
			StoreID:    storeID,
			ProductID:  m.ProductID,
			ChannelID:  &channelID,
			Type:       enums.ConflictTypeSyncTimeout,
			Priority:   enums.ConflictPriorityMedium,
			LocalValue: float64(m.Sellable()),
		})
		if err != nil {
			s.logg.Error(s.logg.WithProductID(ctx, m.ProductID.String()), "failed to record sync timeout", err)
		}
	}
}

// SyncChannelInventory pushes allocations to a single channel outside of a
// batch.
func (s *Service) SyncChannelInventory(ctx context.Context, storeID, channelID uuid.UUID) (*ChannelSyncResult, error) {
	channel, err := s.repo.FindChannel(ctx, storeID, channelID)
	if err != nil {
		return nil, err
	}
	if !channel.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "channel is not active")
	}
	ctx = s.logg.WithStoreID(ctx, storeID.String())
	ctx = s.logg.WithChannelID(ctx, channelID.String())

	channelCtx, cancel := context.WithTimeout(ctx, s.opts.ChannelTimeout)
	defer cancel()
	started := s.now()
	out, err := s.syncChannel(channelCtx, storeID, *channel, nil)
	success := err == nil && out.Response.Success
	var successful, failed int
	if out != nil {
		successful, failed = out.Response.Successful, out.Response.Failed
	}
	s.metrics.ObserveChannelSync(string(channel.Type), success, s.now().Sub(started), successful, failed)
	if err != nil {
		if errors.Is(channelCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			s.recordTimeouts(ctx, storeID, *channel, out)
		}
		return out, err
	}
	if len(out.ProductIDs) > 0 {
		if _, err := s.conflicts.DetectForStore(ctx, storeID, out.ProductIDs); err != nil {
			s.logg.Error(ctx, "conflict detection after channel sync failed", err)
		}
	}
	return out, nil
}

// syncChannel is the push itself. The result is returned even on failure so
// callers can see which listings were involved.
func (s *Service) syncChannel(ctx context.Context, storeID uuid.UUID, channel models.Channel, syncID *uuid.UUID) (*ChannelSyncResult, error) {
	started := s.now()
	out := &ChannelSyncResult{ChannelID: channel.ID, ChannelType: channel.Type}

	conn, err := s.connectorFor(ctx, channel)
	if err != nil {
		s.writeStatus(ctx, channel.ID, syncID, out, err)
		return out, err
	}
	mappings, err := s.repo.SyncableMappings(ctx, channel.ID)
	if err != nil {
		return out, err
	}
	out.mappings = mappings

	req := connectors.SyncRequest{StoreID: storeID, ChannelID: channel.ID, Updates: make([]connectors.InventoryUpdate, 0, len(mappings))}
	productIDs := make([]uuid.UUID, 0, len(mappings))
	externalIDs := make([]string, 0, len(mappings))
	for _, m := range mappings {
		req.Updates = append(req.Updates, connectors.InventoryUpdate{
			ProductID:         m.ProductID,
			ExternalProductID: m.ExternalProductID,
			Quantity:          m.Sellable(),
			Price:             m.Price,
			SKU:               m.SKU,
		})
		productIDs = append(productIDs, m.ProductID)
		externalIDs = append(externalIDs, m.ExternalProductID)
	}

	resp, err := conn.SyncInventory(ctx, req)
	if resp != nil {
		out.Response = *resp
	}
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeCredential) {
			s.invalidateCredentials(ctx, channel.ID, err)
		}
		out.DurationMS = s.now().Sub(started).Milliseconds()
		s.writeStatus(ctx, channel.ID, syncID, out, err)
		return out, err
	}

	now := s.now()
	if err := s.repo.TouchSynced(ctx, channel.ID, productIDs, now); err != nil {
		return out, err
	}
	out.ProductIDs = productIDs

	if reader, ok := conn.(connectors.InventoryReader); ok && len(externalIDs) > 0 {
		levels, err := reader.FetchInventory(ctx, externalIDs)
		if err != nil {
			s.logg.Warn(ctx, "channel read-back failed: "+err.Error())
		} else if _, err := s.repo.SaveChannelLevels(ctx, channel.ID, levels, now); err != nil {
			s.logg.Error(ctx, "failed to store channel levels", err)
		} else {
			out.Pulled = len(levels)
		}
	}

	out.DurationMS = s.now().Sub(started).Milliseconds()
	s.writeStatus(ctx, channel.ID, syncID, out, nil)
	return out, nil
}

func (s *Service) writeStatus(ctx context.Context, channelID uuid.UUID, syncID *uuid.UUID, out *ChannelSyncResult, cause error) {
	row := &models.SyncStatus{
		ChannelID:      channelID,
		SyncID:         syncID,
		TotalProcessed: out.Response.TotalProcessed,
		Successful:     out.Response.Successful,
		Failed:         out.Response.Failed,
		SyncedAt:       s.now(),
	}
	switch {
	case cause != nil:
		row.Status = enums.SyncStatusFailed
		msg, _ := describe(cause)
		row.Error = &msg
	case out.Response.Success:
		row.Status = enums.SyncStatusCompleted
	default:
		row.Status = enums.SyncStatusCompletedWithErrors
		if out.Response.Error != "" {
			msg := out.Response.Error
			row.Error = &msg
		}
	}
	// Status rows are best effort; a batch must not fail on them.
	if err := s.repo.InsertSyncStatus(context.WithoutCancel(ctx), row); err != nil {
		s.logg.Error(ctx, "failed to write sync status", err)
	}
}

// describe splits an error into the message and code stored on results.
func describe(err error) (string, string) {
	if typed := pkgerrors.As(err); typed != nil {
		msg := typed.Message()
		if cause := typed.Unwrap(); cause != nil {
			msg += ": " + cause.Error()
		}
		return msg, string(typed.Code())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "channel sync timed out", string(pkgerrors.CodeConnector)
	}
	return err.Error(), string(pkgerrors.CodeInternal)
}
