package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/channelstock-backend/api/responses"
	"github.com/angelmondragon/channelstock-backend/api/validators"
	"github.com/angelmondragon/channelstock-backend/internal/allocation"
	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
	"github.com/angelmondragon/channelstock-backend/pkg/logger"
)

// InventoryService is the allocation surface exposed over HTTP.
type InventoryService interface {
	StoreProduct(ctx context.Context, storeID, productID uuid.UUID) (*models.Product, error)
	ListAllocations(ctx context.Context, productID uuid.UUID) ([]models.Allocation, error)
	Allocate(ctx context.Context, productID uuid.UUID, strategy *enums.AllocationStrategy, opts allocation.AllocateOptions) (*allocation.Result, error)
	Reserve(ctx context.Context, m allocation.StockMovement) error
	Release(ctx context.Context, m allocation.StockMovement) error
	Confirm(ctx context.Context, m allocation.StockMovement) error
}

type allocationsView struct {
	ProductID   uuid.UUID        `json:"product_id"`
	Stock       int              `json:"current_stock"`
	Reserved    int              `json:"reserved_stock"`
	Strategy    string           `json:"strategy"`
	Allocations []allocationView `json:"allocations"`
}

// ProductAllocations lists the per-channel allocation rows of a product.
func ProductAllocations(svc InventoryService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		product, ok := scopedProduct(w, r, svc, logg)
		if !ok {
			return
		}
		rows, err := svc.ListAllocations(r.Context(), product.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, allocationsView{
			ProductID:   product.ID,
			Stock:       product.CurrentStock,
			Reserved:    product.ReservedStock,
			Strategy:    string(product.AllocationStrategy),
			Allocations: newAllocationViews(rows),
		})
	}
}

type allocateRequest struct {
	Strategy string                       `json:"strategy,omitempty" validate:"omitempty,allocation_strategy"`
	Bounds   map[string]allocation.Bounds `json:"bounds,omitempty" validate:"omitempty,dive"`
}

func (req allocateRequest) parse() (*enums.AllocationStrategy, map[uuid.UUID]allocation.Bounds, error) {
	var strategy *enums.AllocationStrategy
	if raw := strings.TrimSpace(req.Strategy); raw != "" {
		parsed, err := enums.ParseAllocationStrategy(raw)
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid strategy")
		}
		strategy = &parsed
	}
	if len(req.Bounds) == 0 {
		return strategy, nil, nil
	}
	bounds := make(map[uuid.UUID]allocation.Bounds, len(req.Bounds))
	for raw, b := range req.Bounds {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid channel id in bounds").
				WithDetails(map[string]any{"channel_id": raw})
		}
		bounds[id] = b
	}
	return strategy, bounds, nil
}

// ProductAllocate runs a manual allocation pass.
func ProductAllocate(svc InventoryService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		product, ok := scopedProduct(w, r, svc, logg)
		if !ok {
			return
		}
		var payload allocateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		strategy, bounds, err := payload.parse()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Allocate(r.Context(), product.ID, strategy, allocation.AllocateOptions{
			Trigger: allocation.TriggerManual,
			Bounds:  bounds,
			Actor:   actorRef(r, product.StoreID),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type movementRequest struct {
	ChannelID string `json:"channel_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
	OrderID   string `json:"order_id,omitempty" validate:"omitempty,max=255"`
}

type movementFunc func(ctx context.Context, m allocation.StockMovement) error

// ProductReserve holds units of a channel allocation for an order.
func ProductReserve(svc InventoryService, logg *logger.Logger) http.HandlerFunc {
	return stockMovement(svc, logg, "reserved", func(s InventoryService) movementFunc { return s.Reserve })
}

// ProductRelease returns reserved units to a channel allocation.
func ProductRelease(svc InventoryService, logg *logger.Logger) http.HandlerFunc {
	return stockMovement(svc, logg, "released", func(s InventoryService) movementFunc { return s.Release })
}

// ProductConfirm settles a reservation against stock.
func ProductConfirm(svc InventoryService, logg *logger.Logger) http.HandlerFunc {
	return stockMovement(svc, logg, "confirmed", func(s InventoryService) movementFunc { return s.Confirm })
}

func stockMovement(svc InventoryService, logg *logger.Logger, outcome string, pick func(InventoryService) movementFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		product, ok := scopedProduct(w, r, svc, logg)
		if !ok {
			return
		}
		var payload movementRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		channelID, err := uuid.Parse(payload.ChannelID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid channel id"))
			return
		}

		movement := allocation.StockMovement{
			ProductID: product.ID,
			ChannelID: channelID,
			Quantity:  payload.Quantity,
			OrderID:   strings.TrimSpace(payload.OrderID),
		}
		if err := pick(svc)(r.Context(), movement); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"product_id": product.ID,
			"channel_id": channelID,
			"quantity":   payload.Quantity,
			"status":     outcome,
		})
	}
}

func scopedProduct(w http.ResponseWriter, r *http.Request, svc InventoryService, logg *logger.Logger) (*models.Product, bool) {
	if svc == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
		return nil, false
	}
	storeID, err := storeScope(r)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, false
	}
	productID, err := pathUUID(r, "productId", "product id")
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, false
	}
	product, err := svc.StoreProduct(r.Context(), storeID, productID)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, false
	}
	return product, true
}
