package allocation

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
)

// StockMovement identifies one order line against a channel allocation.
type StockMovement struct {
	ProductID uuid.UUID
	ChannelID uuid.UUID
	Quantity  int
	OrderID   string
}

func (m StockMovement) validate() error {
	if m.ProductID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if m.ChannelID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "channel id is required")
	}
	if m.Quantity <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	return nil
}

func (s *Service) movementContext(ctx context.Context, m StockMovement) context.Context {
	ctx = s.logg.WithProductID(ctx, m.ProductID.String())
	ctx = s.logg.WithChannelID(ctx, m.ChannelID.String())
	if m.OrderID != "" {
		ctx = s.logg.WithField(ctx, "order_id", m.OrderID)
	}
	return s.logg.WithField(ctx, "quantity", m.Quantity)
}

// Reserve holds qty units of a channel's allocation for an order. When the
// channel is short it runs exactly one reallocation pass and checks again.
func (s *Service) Reserve(ctx context.Context, m StockMovement) error {
	if err := m.validate(); err != nil {
		return err
	}
	ctx = s.movementContext(ctx, m)

	ok, err := s.repo.TryReserve(ctx, m.ProductID, m.ChannelID, m.Quantity)
	if err != nil {
		return err
	}
	if ok {
		s.logg.Debug(ctx, "reservation accepted")
		return nil
	}

	s.logg.Info(ctx, "channel allocation short; reallocating once")
	if err := s.reallocate(ctx, m.ProductID); err != nil {
		return err
	}

	ok, err = s.repo.TryReserve(ctx, m.ProductID, m.ChannelID, m.Quantity)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := s.repo.FindAllocation(ctx, m.ProductID, m.ChannelID); err != nil {
			return err
		}
		s.metrics.IncReservationRejected()
		s.logg.Warn(ctx, "reservation rejected after reallocation")
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock allocated to channel").
			WithDetails(map[string]any{
				"product_id": m.ProductID,
				"channel_id": m.ChannelID,
				"requested":  m.Quantity,
			})
	}
	s.logg.Debug(ctx, "reservation accepted after reallocation")
	return nil
}

// Release returns reserved units to the channel. Releasing more than is
// reserved floors at zero.
func (s *Service) Release(ctx context.Context, m StockMovement) error {
	if err := m.validate(); err != nil {
		return err
	}
	ctx = s.movementContext(ctx, m)
	if err := s.repo.Release(ctx, m.ProductID, m.ChannelID, m.Quantity); err != nil {
		return err
	}
	s.logg.Debug(ctx, "reservation released")
	return nil
}

// Confirm turns a reservation into a sale: the channel allocation, its
// reservation and the product stock all drop by qty, floored at zero. Low
// stock triggers a rebalance, followed by the overselling guard.
func (s *Service) Confirm(ctx context.Context, m StockMovement) error {
	if err := m.validate(); err != nil {
		return err
	}
	ctx = s.movementContext(ctx, m)

	var product *models.Product
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.ConsumeAllocation(ctx, m.ProductID, m.ChannelID, m.Quantity); err != nil {
			return err
		}
		if err := repo.DecrementStock(ctx, m.ProductID, m.Quantity); err != nil {
			return err
		}
		if err := repo.InsertSale(ctx, &models.ChannelSale{
			ProductID: m.ProductID,
			ChannelID: m.ChannelID,
			OrderID:   m.OrderID,
			Quantity:  m.Quantity,
			SoldAt:    s.now(),
		}); err != nil {
			return err
		}
		loaded, err := repo.FindProduct(ctx, m.ProductID)
		if err != nil {
			return err
		}
		product = loaded
		return nil
	})
	if err != nil {
		return err
	}
	s.logg.Info(ctx, "sale confirmed")

	if product.CurrentStock <= product.ReorderPoint {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"current_stock": product.CurrentStock,
			"reorder_point": product.ReorderPoint,
		})
		s.logg.Info(logCtx, "stock at reorder point; rebalancing")
		if _, err := s.Allocate(ctx, m.ProductID, nil, AllocateOptions{Trigger: TriggerLowStock}); err != nil {
			return err
		}
	}

	_, err = s.CheckOverselling(ctx, m.ProductID)
	return err
}

// CheckOverselling forces an equal pass when channels together hold more
// than the product has in stock.
func (s *Service) CheckOverselling(ctx context.Context, productID uuid.UUID) (*OversellReport, error) {
	unlock, err := s.locker.Lock(ctx, productID.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	product, err := s.repo.FindProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListAllocations(ctx, productID)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, row := range rows {
		total += row.AllocatedQuantity
	}
	report := &OversellReport{
		ProductID:      productID,
		CurrentStock:   product.CurrentStock,
		AllocatedTotal: total,
	}
	if total <= product.CurrentStock {
		return report, nil
	}

	logCtx := s.logg.WithFields(s.logg.WithProductID(ctx, productID.String()), map[string]any{
		"current_stock":   product.CurrentStock,
		"allocated_total": total,
	})
	s.logg.Warn(logCtx, "channels oversold; forcing equal reallocation")

	equal := enums.AllocationStrategyEqual
	if _, err := s.allocateLocked(ctx, productID, &equal, AllocateOptions{Trigger: TriggerOverselling}); err != nil {
		return nil, err
	}
	report.Corrected = true
	return report, nil
}

// ScanOverselling runs the guard over every active product of a store and
// returns the products that needed correction.
func (s *Service) ScanOverselling(ctx context.Context, storeID uuid.UUID) ([]OversellReport, error) {
	ids, err := s.repo.ListProductIDs(ctx, storeID)
	if err != nil {
		return nil, err
	}
	corrected := []OversellReport{}
	for _, id := range ids {
		report, err := s.CheckOverselling(ctx, id)
		if err != nil {
			return corrected, err
		}
		if report.Corrected {
			corrected = append(corrected, *report)
		}
	}
	return corrected, nil
}

// SetChannelAllocation overwrites one channel's allocation, keeping the
// reservation and stock invariants intact.
func (s *Service) SetChannelAllocation(ctx context.Context, productID, channelID uuid.UUID, quantity int) (*models.Allocation, error) {
	if quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "allocation cannot be negative")
	}
	unlock, err := s.locker.Lock(ctx, productID.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	product, err := s.repo.FindProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListAllocations(ctx, productID)
	if err != nil {
		return nil, err
	}

	var target *models.Allocation
	others := 0
	for i := range rows {
		if rows[i].ChannelID == channelID {
			target = &rows[i]
			continue
		}
		others += rows[i].AllocatedQuantity
	}
	if target == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "allocation not found")
	}
	if quantity < target.ReservedQuantity {
		return nil, pkgerrors.New(pkgerrors.CodeAllocationInvariant, "allocation below outstanding reservations").
			WithDetails(map[string]any{"reserved": target.ReservedQuantity, "requested": quantity})
	}
	if others+quantity > product.Available() {
		return nil, pkgerrors.New(pkgerrors.CodeAllocationInvariant, "allocated total exceeds available stock").
			WithDetails(map[string]any{"allocated": others + quantity, "available": product.Available()})
	}

	strategy, err := StrategyFor(target.Strategy)
	if err != nil {
		strategy = equalStrategy{}
	}
	buffer := strategy.Buffer().Buffer(quantity)
	if err := s.repo.SetAllocated(ctx, productID, channelID, quantity, buffer, s.now()); err != nil {
		return nil, err
	}
	target.AllocatedQuantity = quantity
	target.BufferQuantity = buffer

	logCtx := s.logg.WithFields(s.logg.WithChannelID(ctx, channelID.String()), map[string]any{
		"product_id": productID.String(),
		"allocated":  quantity,
	})
	s.logg.Info(logCtx, "channel allocation set")
	return target, nil
}
