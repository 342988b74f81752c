package allocation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
	"github.com/angelmondragon/channelstock-backend/pkg/logger"
	"github.com/angelmondragon/channelstock-backend/pkg/metrics"
	"github.com/angelmondragon/channelstock-backend/pkg/outbox"
	"github.com/angelmondragon/channelstock-backend/pkg/outbox/payloads"
)

const (
	defaultSalesWindowDays = 30
	maxPassAttempts        = 3
)

// Trigger names why a pass ran; it shows up in logs and metrics.
type Trigger string

const (
	TriggerManual       Trigger = "manual"
	TriggerReservation  Trigger = "reservation_retry"
	TriggerLowStock     Trigger = "low_stock"
	TriggerOverselling  Trigger = "overselling_guard"
	TriggerConflict     Trigger = "conflict_resolution"
	TriggerChannelSetup Trigger = "channel_setup"
)

// DemandSource supplies forecast quantities per channel for the demand strategy.
type DemandSource interface {
	DemandByChannel(ctx context.Context, productID uuid.UUID, channelIDs []uuid.UUID) (map[uuid.UUID]float64, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// AllocateOptions tune a single pass.
type AllocateOptions struct {
	Trigger Trigger
	Bounds  map[uuid.UUID]Bounds
	Actor   *outbox.ActorRef
}

// Result is the persisted outcome of a pass.
type Result struct {
	ProductID uuid.UUID                `json:"product_id"`
	Strategy  enums.AllocationStrategy `json:"strategy"`
	Available int                      `json:"available"`
	Allocated int                      `json:"allocated"`
	Channels  []Candidate              `json:"channels"`
	Trigger   Trigger                  `json:"trigger"`
}

// OversellReport describes one overselling guard check.
type OversellReport struct {
	ProductID      uuid.UUID `json:"product_id"`
	CurrentStock   int       `json:"current_stock"`
	AllocatedTotal int       `json:"allocated_total"`
	Corrected      bool      `json:"corrected"`
}

// ServiceParams wires the allocation engine.
type ServiceParams struct {
	DB              txRunner
	Repo            *Repository
	Locker          Locker
	Demand          DemandSource
	Outbox          outbox.Emitter
	Logger          *logger.Logger
	Metrics         *metrics.InventoryMetrics
	SalesWindowDays int
}

// Service partitions stock across channels and runs the reservation lifecycle.
type Service struct {
	db          txRunner
	repo        *Repository
	locker      Locker
	demand      DemandSource
	outbox      outbox.Emitter
	logg        *logger.Logger
	metrics     *metrics.InventoryMetrics
	salesWindow time.Duration
	now         func() time.Time

	// reallocate is the pass Reserve falls back to; swapped in tests.
	reallocate func(ctx context.Context, productID uuid.UUID) error
}

// NewService validates params and builds the engine.
func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("db runner is required")
	}
	if params.Repo == nil {
		return nil, errors.New("allocation repository is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox emitter is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	locker := params.Locker
	if locker == nil {
		locker = NewLocalLocker()
	}
	days := params.SalesWindowDays
	if days <= 0 {
		days = defaultSalesWindowDays
	}
	s := &Service{
		db:          params.DB,
		repo:        params.Repo,
		locker:      locker,
		demand:      params.Demand,
		outbox:      params.Outbox,
		logg:        params.Logger,
		metrics:     params.Metrics,
		salesWindow: time.Duration(days) * 24 * time.Hour,
		now:         func() time.Time { return time.Now().UTC() },
	}
	s.reallocate = func(ctx context.Context, productID uuid.UUID) error {
		_, err := s.Allocate(ctx, productID, nil, AllocateOptions{Trigger: TriggerReservation})
		return err
	}
	return s, nil
}

// Allocate runs one pass for a product using strategy, or the product's
// default strategy when nil.
func (s *Service) Allocate(ctx context.Context, productID uuid.UUID, strategy *enums.AllocationStrategy, opts AllocateOptions) (*Result, error) {
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if opts.Trigger == "" {
		opts.Trigger = TriggerManual
	}
	unlock, err := s.locker.Lock(ctx, productID.String())
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.allocateLocked(ctx, productID, strategy, opts)
}

// allocateLocked runs a pass with the product lock held. Reservations move
// without the lock, so a pass whose rows changed underneath it is recomputed.
func (s *Service) allocateLocked(ctx context.Context, productID uuid.UUID, strategyName *enums.AllocationStrategy, opts AllocateOptions) (*Result, error) {
	ctx = s.logg.WithProductID(ctx, productID.String())
	for attempt := 1; ; attempt++ {
		result, err := s.pass(ctx, productID, strategyName, opts)
		if !errors.Is(err, errStalePlan) {
			return result, err
		}
		if attempt == maxPassAttempts {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "allocations kept changing during the pass")
		}
		s.logg.Warn(s.logg.WithField(ctx, "attempt", attempt), "allocations changed during pass; recomputing")
	}
}

func (s *Service) pass(ctx context.Context, productID uuid.UUID, strategyName *enums.AllocationStrategy, opts AllocateOptions) (*Result, error) {
	product, err := s.repo.FindProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	name := product.AllocationStrategy
	if strategyName != nil {
		name = *strategyName
	}
	if !name.IsValid() {
		name = enums.AllocationStrategyEqual
	}
	strategy, err := StrategyFor(name)
	if err != nil {
		return nil, err
	}

	channels, err := s.repo.ListActiveChannels(ctx, product.StoreID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.EnsureAllocations(ctx, productID, channels); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListAllocations(ctx, productID)
	if err != nil {
		return nil, err
	}
	reserved := make(map[uuid.UUID]int, len(rows))
	for _, row := range rows {
		reserved[row.ChannelID] = row.ReservedQuantity
	}

	inputs, err := s.channelInputs(ctx, strategy, productID, channels)
	if err != nil {
		return nil, err
	}

	available := product.Available()
	plan, err := buildPlan(strategy, inputs, reserved, available, opts.Bounds)
	if err != nil {
		return nil, err
	}
	if err := validatePlan(plan); err != nil {
		s.logg.Error(ctx, "allocation plan rejected", err)
		return nil, err
	}

	now := s.now()
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindProduct(ctx, productID)
		if err != nil {
			return err
		}
		if current.Available() != available {
			return errStalePlan
		}
		if err := repo.SavePlan(ctx, productID, plan, now); err != nil {
			return err
		}
		if opts.Trigger != TriggerLowStock {
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventLowStockRebalanced,
			AggregateType: enums.AggregateProduct,
			AggregateID:   productID,
			Actor:         opts.Actor,
			Data:          lowStockEvent(product, plan),
			OccurredAt:    now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncAllocationPass(string(plan.Strategy), string(opts.Trigger))
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"strategy":  plan.Strategy,
		"trigger":   opts.Trigger,
		"available": available,
		"allocated": plan.Total(),
		"channels":  len(plan.Candidates),
	})
	s.logg.Info(logCtx, "allocation pass persisted")

	return &Result{
		ProductID: productID,
		Strategy:  plan.Strategy,
		Available: available,
		Allocated: plan.Total(),
		Channels:  plan.Candidates,
		Trigger:   opts.Trigger,
	}, nil
}

func (s *Service) channelInputs(ctx context.Context, strategy Strategy, productID uuid.UUID, channels []models.Channel) ([]ChannelInput, error) {
	inputs := make([]ChannelInput, len(channels))
	ids := make([]uuid.UUID, len(channels))
	for i, ch := range channels {
		inputs[i] = ChannelInput{ChannelID: ch.ID, Priority: ch.Priority}
		ids[i] = ch.ID
	}

	var weights map[uuid.UUID]float64
	var err error
	switch strategy.weights() {
	case weightPriority:
		for i := range inputs {
			inputs[i].Weight = float64(inputs[i].Priority)
		}
		return inputs, nil
	case weightSales:
		weights, err = s.repo.SalesSince(ctx, productID, s.now().Add(-s.salesWindow))
	case weightDemand:
		if s.demand != nil {
			weights, err = s.demand.DemandByChannel(ctx, productID, ids)
		} else {
			weights, err = s.repo.Forecasts(ctx, productID)
		}
	default:
		return inputs, nil
	}
	if err != nil {
		return nil, err
	}
	for i := range inputs {
		inputs[i].Weight = weights[inputs[i].ChannelID]
	}
	return inputs, nil
}

func lowStockEvent(product *models.Product, plan Plan) payloads.LowStockRebalancedEvent {
	rows := make([]payloads.ChannelAllocation, len(plan.Candidates))
	for i, c := range plan.Candidates {
		rows[i] = payloads.ChannelAllocation{
			ChannelID: c.ChannelID,
			Allocated: c.Allocated,
			Reserved:  c.Reserved,
			Buffer:    c.Buffer,
		}
	}
	return payloads.LowStockRebalancedEvent{
		ProductID:    product.ID,
		StoreID:      product.StoreID,
		CurrentStock: product.CurrentStock,
		ReorderPoint: product.ReorderPoint,
		Strategy:     plan.Strategy,
		Allocations:  rows,
	}
}

// ListAllocations returns the current rows of a product.
func (s *Service) ListAllocations(ctx context.Context, productID uuid.UUID) ([]models.Allocation, error) {
	if _, err := s.repo.FindProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListAllocations(ctx, productID)
}

// StoreProduct loads a product and confirms it belongs to storeID.
func (s *Service) StoreProduct(ctx context.Context, storeID, productID uuid.UUID) (*models.Product, error) {
	product, err := s.repo.FindProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.StoreID != storeID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return product, nil
}
