package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/channelstock-backend/api/responses"
	"github.com/angelmondragon/channelstock-backend/api/validators"
	"github.com/angelmondragon/channelstock-backend/internal/conflicts"
	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
	"github.com/angelmondragon/channelstock-backend/pkg/logger"
	"github.com/angelmondragon/channelstock-backend/pkg/pagination"
)

// ConflictService is the conflict engine surface exposed over HTTP.
type ConflictService interface {
	List(ctx context.Context, storeID uuid.UUID, filter conflicts.ListFilter) (*conflicts.ListPage, error)
	Get(ctx context.Context, storeID, conflictID uuid.UUID) (*models.Conflict, error)
	DetectForStore(ctx context.Context, storeID uuid.UUID, productIDs []uuid.UUID) ([]models.Conflict, error)
	AutoResolvePending(ctx context.Context, storeID uuid.UUID) (conflicts.AutoResolveSummary, error)
	Resolve(ctx context.Context, conflictID uuid.UUID, strategy enums.ResolutionStrategy, actor string) (*models.Conflict, error)
	ResolveManually(ctx context.Context, conflictID uuid.UUID, value float64, actor string) (*models.Conflict, error)
}

// ConflictList filters the store's conflicts by status, type, priority and
// product. Pages continue through ?cursor.
func ConflictList(svc ConflictService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "conflict service unavailable"))
			return
		}
		storeID, err := storeScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter, err := parseConflictFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.List(r.Context(), storeID, filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, conflictPageView{
			Conflicts:  newConflictViews(page.Conflicts),
			NextCursor: page.NextCursor,
		})
	}
}

func parseConflictFilter(r *http.Request) (conflicts.ListFilter, error) {
	var filter conflicts.ListFilter
	var err error
	if filter.Status, _, err = validators.ParseQueryEnum(r, "status", enums.ParseConflictStatus); err != nil {
		return filter, err
	}
	if filter.Type, _, err = validators.ParseQueryEnum(r, "type", enums.ParseConflictType); err != nil {
		return filter, err
	}
	if filter.Priority, _, err = validators.ParseQueryEnum(r, "priority", enums.ParseConflictPriority); err != nil {
		return filter, err
	}
	if filter.ProductID, err = validators.ParseQueryUUID(r, "product_id"); err != nil {
		return filter, err
	}
	if filter.Limit, err = validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit); err != nil {
		return filter, err
	}
	filter.Cursor = strings.TrimSpace(r.URL.Query().Get("cursor"))
	return filter, nil
}

type detectConflictsRequest struct {
	ProductIDs []string `json:"product_ids,omitempty" validate:"omitempty,max=500,dive,uuid"`
}

// ConflictDetect runs detection over the given products, or over every
// product with channel reports when the body is empty.
func ConflictDetect(svc ConflictService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "conflict service unavailable"))
			return
		}
		storeID, err := storeScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload detectConflictsRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		ids := make([]uuid.UUID, 0, len(payload.ProductIDs))
		for _, raw := range payload.ProductIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id"))
				return
			}
			ids = append(ids, id)
		}

		found, err := svc.DetectForStore(r.Context(), storeID, ids)
		if err != nil && len(found) == 0 {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err != nil && logg != nil {
			// Partial sweep: report what was found and log the rest.
			logg.Warn(logg.WithField(r.Context(), "error", err.Error()), "conflict detection partially failed")
		}
		responses.WriteSuccess(w, map[string]any{
			"detected":  len(found),
			"conflicts": newConflictViews(found),
		})
	}
}

// ConflictAutoResolve applies the policy strategy to every pending conflict.
func ConflictAutoResolve(svc ConflictService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "conflict service unavailable"))
			return
		}
		storeID, err := storeScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		summary, err := svc.AutoResolvePending(r.Context(), storeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

type resolveConflictRequest struct {
	Strategy string   `json:"strategy" validate:"required,resolution_strategy"`
	Value    *float64 `json:"value,omitempty" validate:"omitempty,gte=0"`
}

// ConflictResolve settles one conflict with a strategy, or with an operator
// value when the strategy is manual_value.
func ConflictResolve(svc ConflictService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "conflict service unavailable"))
			return
		}
		storeID, err := storeScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		conflictID, err := pathUUID(r, "conflictId", "conflict id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload resolveConflictRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		strategy, err := enums.ParseResolutionStrategy(strings.TrimSpace(payload.Strategy))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid strategy"))
			return
		}
		if strategy == enums.ResolutionManualValue && payload.Value == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "value is required for manual_value").
				WithDetails(map[string]string{"value": "is required"}))
			return
		}
		if _, err := svc.Get(r.Context(), storeID, conflictID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var conflict *models.Conflict
		if strategy == enums.ResolutionManualValue {
			conflict, err = svc.ResolveManually(r.Context(), conflictID, *payload.Value, actorName(r))
		} else {
			conflict, err = svc.Resolve(r.Context(), conflictID, strategy, actorName(r))
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newConflictView(*conflict))
	}
}
