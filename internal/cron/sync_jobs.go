package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/channelstock-backend/internal/allocation"
	"github.com/angelmondragon/channelstock-backend/internal/conflicts"
	"github.com/angelmondragon/channelstock-backend/internal/orchestrator"
	"github.com/angelmondragon/channelstock-backend/pkg/logger"
)

type storeLister interface {
	ListStoreIDs(ctx context.Context) ([]uuid.UUID, error)
}

type inventorySyncer interface {
	SyncInventoryAllChannels(ctx context.Context, storeID uuid.UUID, opts orchestrator.SyncOptions) (*orchestrator.BatchResult, error)
}

type oversellScanner interface {
	ScanOverselling(ctx context.Context, storeID uuid.UUID) ([]allocation.OversellReport, error)
}

type conflictResolver interface {
	AutoResolvePending(ctx context.Context, storeID uuid.UUID) (conflicts.AutoResolveSummary, error)
}

// eachStore runs fn for every store with active channels. A failing store
// does not stop the others.
func eachStore(ctx context.Context, logg *logger.Logger, stores storeLister, fn func(ctx context.Context, storeID uuid.UUID) error) (int, error) {
	ids, err := stores.ListStoreIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stores: %w", err)
	}
	var errs error
	for _, storeID := range ids {
		if err := ctx.Err(); err != nil {
			return 0, multierr.Append(errs, err)
		}
		storeCtx := logg.WithStoreID(ctx, storeID.String())
		if err := fn(storeCtx, storeID); err != nil {
			logg.Error(storeCtx, "store run failed", err)
			errs = multierr.Append(errs, fmt.Errorf("store %s: %w", storeID, err))
		}
	}
	return len(ids), errs
}

type InventorySyncJobParams struct {
	Logger  *logger.Logger
	Stores  storeLister
	Syncer  inventorySyncer
	Options orchestrator.SyncOptions
}

// NewInventorySyncJob pushes allocations for every store on each cycle.
func NewInventorySyncJob(params InventorySyncJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Stores == nil {
		return nil, fmt.Errorf("store lister required")
	}
	if params.Syncer == nil {
		return nil, fmt.Errorf("inventory syncer required")
	}
	return &inventorySyncJob{
		logg:   params.Logger,
		stores: params.Stores,
		syncer: params.Syncer,
		opts:   params.Options,
	}, nil
}

type inventorySyncJob struct {
	logg   *logger.Logger
	stores storeLister
	syncer inventorySyncer
	opts   orchestrator.SyncOptions
}

func (j *inventorySyncJob) Name() string { return "inventory_sync" }

func (j *inventorySyncJob) Run(ctx context.Context) error {
	var succeeded, failed int
	stores, err := eachStore(ctx, j.logg, j.stores, func(ctx context.Context, storeID uuid.UUID) error {
		// Each batch gets its own id; the zero value asks the orchestrator for one.
		batch, err := j.syncer.SyncInventoryAllChannels(ctx, storeID, j.opts)
		if batch != nil {
			succeeded += batch.SuccessCount
			failed += batch.FailureCount
		}
		return err
	})
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"stores":             stores,
		"channels_succeeded": succeeded,
		"channels_failed":    failed,
	})
	j.logg.Info(logCtx, "inventory sync sweep complete")
	return err
}

type OversellGuardJobParams struct {
	Logger  *logger.Logger
	Stores  storeLister
	Scanner oversellScanner
}

func NewOversellGuardJob(params OversellGuardJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Stores == nil {
		return nil, fmt.Errorf("store lister required")
	}
	if params.Scanner == nil {
		return nil, fmt.Errorf("oversell scanner required")
	}
	return &oversellGuardJob{logg: params.Logger, stores: params.Stores, scanner: params.Scanner}, nil
}

type oversellGuardJob struct {
	logg    *logger.Logger
	stores  storeLister
	scanner oversellScanner
}

func (j *oversellGuardJob) Name() string { return "oversell_guard" }

func (j *oversellGuardJob) Run(ctx context.Context) error {
	corrected := 0
	stores, err := eachStore(ctx, j.logg, j.stores, func(ctx context.Context, storeID uuid.UUID) error {
		reports, err := j.scanner.ScanOverselling(ctx, storeID)
		for _, r := range reports {
			if r.Corrected {
				corrected++
			}
		}
		return err
	})
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"stores":    stores,
		"corrected": corrected,
	})
	j.logg.Info(logCtx, "oversell guard sweep complete")
	return err
}

type ConflictAutoResolveJobParams struct {
	Logger   *logger.Logger
	Stores   storeLister
	Resolver conflictResolver
}

func NewConflictAutoResolveJob(params ConflictAutoResolveJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Stores == nil {
		return nil, fmt.Errorf("store lister required")
	}
	if params.Resolver == nil {
		return nil, fmt.Errorf("conflict resolver required")
	}
	return &conflictAutoResolveJob{logg: params.Logger, stores: params.Stores, resolver: params.Resolver}, nil
}

type conflictAutoResolveJob struct {
	logg     *logger.Logger
	stores   storeLister
	resolver conflictResolver
}

func (j *conflictAutoResolveJob) Name() string { return "conflict_auto_resolve" }

func (j *conflictAutoResolveJob) Run(ctx context.Context) error {
	var total conflicts.AutoResolveSummary
	stores, err := eachStore(ctx, j.logg, j.stores, func(ctx context.Context, storeID uuid.UUID) error {
		summary, err := j.resolver.AutoResolvePending(ctx, storeID)
		total.Attempted += summary.Attempted
		total.Resolved += summary.Resolved
		total.ManualReview += summary.ManualReview
		return err
	})
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"stores":        stores,
		"attempted":     total.Attempted,
		"resolved":      total.Resolved,
		"manual_review": total.ManualReview,
	})
	j.logg.Info(logCtx, "conflict auto-resolve sweep complete")
	return err
}
