package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/channelstock-backend/api/responses"
	"github.com/angelmondragon/channelstock-backend/api/validators"
	"github.com/angelmondragon/channelstock-backend/internal/orchestrator"
	"github.com/angelmondragon/channelstock-backend/internal/synctracker"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
	"github.com/angelmondragon/channelstock-backend/pkg/logger"
)

// SyncStarter launches background batches.
type SyncStarter interface {
	StartSync(ctx context.Context, storeID uuid.UUID, opts orchestrator.SyncOptions) (synctracker.Snapshot, error)
}

// SyncTracker reads and cancels tracked batches.
type SyncTracker interface {
	Get(ctx context.Context, syncID uuid.UUID) (synctracker.Snapshot, error)
	Cancel(ctx context.Context, syncID uuid.UUID, reason string) (synctracker.Snapshot, error)
	ListRecent(ctx context.Context, storeID uuid.UUID, limit int) ([]synctracker.Snapshot, error)
}

type startSyncRequest struct {
	Concurrency int   `json:"concurrency,omitempty" validate:"omitempty,min=1,max=32"`
	AutoResolve *bool `json:"auto_resolve,omitempty"`
}

// SyncStart registers a batch across every syncable channel and returns
// immediately with 202; clients poll the sync id for progress.
func SyncStart(svc SyncStarter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync service unavailable"))
			return
		}
		storeID, err := storeScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload startSyncRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		snap, err := svc.StartSync(r.Context(), storeID, orchestrator.SyncOptions{
			Concurrency: payload.Concurrency,
			AutoResolve: payload.AutoResolve,
			Actor:       actorRef(r, storeID),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, snap)
	}
}

// SyncList returns the most recent batches of the store.
func SyncList(tracker SyncTracker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		storeID, err := storeScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 20, 1, 100)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snaps, err := tracker.ListRecent(r.Context(), storeID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snaps)
	}
}

// SyncStatus reports the progress of one batch.
func SyncStatus(tracker SyncTracker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, ok := scopedSync(w, r, tracker, logg)
		if !ok {
			return
		}
		responses.WriteSuccess(w, snap)
	}
}

type cancelSyncRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=255"`
}

// SyncCancel stops a running batch. Channels already pushed stay pushed.
func SyncCancel(tracker SyncTracker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, ok := scopedSync(w, r, tracker, logg)
		if !ok {
			return
		}
		var payload cancelSyncRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		reason := validators.SanitizeString(payload.Reason, 255)
		if reason == "" {
			reason = "cancelled by " + actorName(r)
		}
		cancelled, err := tracker.Cancel(r.Context(), snap.SyncID, reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cancelled)
	}
}

func scopedSync(w http.ResponseWriter, r *http.Request, tracker SyncTracker, logg *logger.Logger) (synctracker.Snapshot, bool) {
	if tracker == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync tracker unavailable"))
		return synctracker.Snapshot{}, false
	}
	storeID, err := storeScope(r)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return synctracker.Snapshot{}, false
	}
	syncID, err := pathUUID(r, "syncId", "sync id")
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return synctracker.Snapshot{}, false
	}
	snap, err := tracker.Get(r.Context(), syncID)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return synctracker.Snapshot{}, false
	}
	// Other stores' batches are reported as missing.
	if snap.StoreID != storeID {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "sync not found"))
		return synctracker.Snapshot{}, false
	}
	return snap, true
}
