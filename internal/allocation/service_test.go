package allocation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/channelstock-backend/pkg/db"
	"github.com/angelmondragon/channelstock-backend/pkg/db/dbtest"
	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
	"github.com/angelmondragon/channelstock-backend/pkg/logger"
	"github.com/angelmondragon/channelstock-backend/pkg/outbox"
)

type fixture struct {
	conn    *gorm.DB
	svc     *Service
	storeID uuid.UUID
}

func newFixture(t *testing.T, mutate ...func(*ServiceParams)) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	params := ServiceParams{
		DB:     dbpkg.Wrap(conn),
		Repo:   NewRepository(conn),
		Outbox: outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		Logger: logger.Nop(),
	}
	for _, fn := range mutate {
		fn(&params)
	}
	svc, err := NewService(params)
	require.NoError(t, err)
	svc.now = func() time.Time { return dbtest.Epoch.Add(24 * time.Hour) }
	return &fixture{conn: conn, svc: svc, storeID: uuid.New()}
}

func (f *fixture) channels(t *testing.T, n int) []models.Channel {
	t.Helper()
	types := []enums.ChannelType{enums.ChannelTypeShopify, enums.ChannelTypeAmazon, enums.ChannelTypeEbay}
	out := make([]models.Channel, n)
	for i := range out {
		out[i] = dbtest.SeedChannel(t, f.conn, f.storeID, types[i%len(types)], i)
	}
	return out
}

func (f *fixture) countingReallocate() *int {
	calls := 0
	inner := f.svc.reallocate
	f.svc.reallocate = func(ctx context.Context, productID uuid.UUID) error {
		calls++
		return inner(ctx, productID)
	}
	return &calls
}

type staticDemand map[uuid.UUID]float64

// hookedDemand runs during a pass, after the allocation rows were read.
type hookedDemand struct {
	weights map[uuid.UUID]float64
	hook    func(ctx context.Context)
}

func (d *hookedDemand) DemandByChannel(ctx context.Context, _ uuid.UUID, _ []uuid.UUID) (map[uuid.UUID]float64, error) {
	if d.hook != nil {
		d.hook(ctx)
	}
	return d.weights, nil
}

func (d staticDemand) DemandByChannel(context.Context, uuid.UUID, []uuid.UUID) (map[uuid.UUID]float64, error) {
	return d, nil
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)

	conn := dbtest.Open(t)
	_, err = NewService(ServiceParams{DB: dbpkg.Wrap(conn), Repo: NewRepository(conn), Logger: logger.Nop()})
	require.ErrorContains(t, err, "outbox")
}

func TestAllocateEqualSplitsAvailableStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.conn, f.storeID, 10)
	chans := f.channels(t, 3)

	result, err := f.svc.Allocate(ctx, product.ID, nil, AllocateOptions{})
	require.NoError(t, err)
	require.Equal(t, enums.AllocationStrategyEqual, result.Strategy)
	require.Equal(t, TriggerManual, result.Trigger)
	require.Equal(t, 10, result.Available)
	require.Equal(t, 10, result.Allocated)

	want := []int{4, 3, 3}
	for i, ch := range chans {
		row := dbtest.LoadAllocation(t, f.conn, product.ID, ch.ID)
		require.Equal(t, want[i], row.AllocatedQuantity, "channel %d", i)
		require.Equal(t, 0, row.BufferQuantity)
		require.NotNil(t, row.LastAllocatedAt)
	}
}

func TestAllocateKeepsReservations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.conn, f.storeID, 10)
	chans := f.channels(t, 3)
	dbtest.SeedAllocation(t, f.conn, product.ID, chans[1].ID, 2, 2)

	result, err := f.svc.Allocate(ctx, product.ID, nil, AllocateOptions{})
	require.NoError(t, err)
	require.Equal(t, 10, result.Allocated)

	b := dbtest.LoadAllocation(t, f.conn, product.ID, chans[1].ID)
	require.Equal(t, 2, b.ReservedQuantity)
	require.Equal(t, 5, b.AllocatedQuantity)
	require.Equal(t, 3, dbtest.LoadAllocation(t, f.conn, product.ID, chans[0].ID).AllocatedQuantity)
	require.Equal(t, 2, dbtest.LoadAllocation(t, f.conn, product.ID, chans[2].ID).AllocatedQuantity)
}

func TestAllocateKeepsReservationTakenMidPass(t *testing.T) {
	demand := &hookedDemand{}
	f := newFixture(t, func(p *ServiceParams) { p.Demand = demand })
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.conn, f.storeID, 10)
	chans := f.channels(t, 2)
	dbtest.SeedAllocation(t, f.conn, product.ID, chans[0].ID, 5, 0)
	dbtest.SeedAllocation(t, f.conn, product.ID, chans[1].ID, 5, 0)
	demand.weights = map[uuid.UUID]float64{chans[0].ID: 1, chans[1].ID: 1}

	var once sync.Once
	var reserveErr error
	demand.hook = func(ctx context.Context) {
		once.Do(func() {
			reserveErr = f.svc.Reserve(ctx, StockMovement{ProductID: product.ID, ChannelID: chans[0].ID, Quantity: 3, OrderID: "o-mid"})
		})
	}

	strategy := enums.AllocationStrategyDemand
	result, err := f.svc.Allocate(ctx, product.ID, &strategy, AllocateOptions{})
	require.NoError(t, err)
	require.NoError(t, reserveErr)
	require.LessOrEqual(t, result.Allocated, 10)

	row := dbtest.LoadAllocation(t, f.conn, product.ID, chans[0].ID)
	require.Equal(t, 3, row.ReservedQuantity)
	require.GreaterOrEqual(t, row.AllocatedQuantity, 3)
}

func TestAllocateKeepsReleaseTakenMidPass(t *testing.T) {
	demand := &hookedDemand{}
	f := newFixture(t, func(p *ServiceParams) { p.Demand = demand })
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.conn, f.storeID, 10)
	chans := f.channels(t, 2)
	dbtest.SeedAllocation(t, f.conn, product.ID, chans[0].ID, 5, 4)
	dbtest.SeedAllocation(t, f.conn, product.ID, chans[1].ID, 5, 0)
	demand.weights = map[uuid.UUID]float64{chans[0].ID: 1, chans[1].ID: 1}

	var once sync.Once
	demand.hook = func(ctx context.Context) {
		once.Do(func() {
			require.NoError(t, f.svc.Release(ctx, StockMovement{ProductID: product.ID, ChannelID: chans[0].ID, Quantity: 4}))
		})
	}

	strategy := enums.AllocationStrategyDemand
	_, err := f.svc.Allocate(ctx, product.ID, &strategy, AllocateOptions{})
	require.NoError(t, err)
	require.Equal(t, 0, dbtest.LoadAllocation(t, f.conn, product.ID, chans[0].ID).ReservedQuantity)
}

func TestAllocateZeroAvailableClearsChannels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.conn, f.storeID, 5, func(p *models.Product) { p.ReservedStock = 5 })
	chans := f.channels(t, 2)
	dbtest.SeedAllocation(t, f.conn, product.ID, chans[0].ID, 4, 1)

	result, err := f.svc.Allocate(ctx, product.ID, nil, AllocateOptions{})
	require.NoError(t, err)
	require.Equal(t, 0, result.Allocated)

	row := dbtest.LoadAllocation(t, f.conn, product.ID, chans[0].ID)
	require.Equal(t, 0, row.AllocatedQuantity)
	require.Equal(t, 0, row.ReservedQuantity)
}

func TestAllocateZeroesInactiveChannels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.conn, f.storeID, 6)
	chans := f.channels(t, 1)
	inactive := dbtest.SeedChannel(t, f.conn, f.storeID, enums.ChannelTypeCustom, 5, func(c *models.Channel) { c.IsActive = false })
	dbtest.SeedAllocation(t, f.conn, product.ID, inactive.ID, 3, 0)

	_, err := f.svc.Allocate(ctx, product.ID, nil, AllocateOptions{})
	require.NoError(t, err)
	require.Equal(t, 6, dbtest.LoadAllocation(t, f.conn, product.ID, chans[0].ID).AllocatedQuantity)
	require.Equal(t, 0, dbtest.LoadAllocation(t, f.conn, product.ID, inactive.ID).AllocatedQuantity)
}

func TestAllocatePriorityWeightsByChannelPriority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.conn, f.storeID, 8)
	low := dbtest.SeedChannel(t, f.conn, f.storeID, enums.ChannelTypeShopify, 0)
	high := dbtest.SeedChannel(t, f.conn, f.storeID, enums.ChannelTypeAmazon, 1, func(c *models.Channel) { c.Priority = 3 })

	strategy := enums.AllocationStrategyPriority
	result, err := f.svc.Allocate(ctx, product.ID, &strategy, AllocateOptions{})
	require.NoError(t, err)
	require.Equal(t, high.ID, result.Channels[0].ChannelID)

	require.Equal(t, 6, dbtest.LoadAllocation(t, f.conn, product.ID, high.ID).AllocatedQuantity)
	require.Equal(t, 2, dbtest.LoadAllocation(t, f.conn, product.ID, low.ID).AllocatedQuantity)
}

func TestAllocatePerformanceWeightsBySalesInWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.conn, f.storeID, 8, func(p *models.Product) {
		p.AllocationStrategy = enums.AllocationStrategyPerformance
	})
	chans := f.channels(t, 2)
	repo := NewRepository(f.conn)
	sales := []models.ChannelSale{
		{ProductID: product.ID, ChannelID: chans[0].ID, OrderID: "o-1", Quantity: 30, SoldAt: dbtest.Epoch},
		{ProductID: product.ID, ChannelID: chans[1].ID, OrderID: "o-2", Quantity: 10, SoldAt: dbtest.Epoch},
		// outside the 30 day window
		{ProductID: product.ID, ChannelID: chans[1].ID, OrderID: "o-3", Quantity: 500, SoldAt: dbtest.Epoch.AddDate(0, -3, 0)},
	}
	for i := range sales {
		require.NoError(t, repo.InsertSale(ctx, &sales[i]))
	}

	result, err := f.svc.Allocate(ctx, product.ID, nil, AllocateOptions{})
	require.NoError(t, err)
	require.Equal(t, enums.AllocationStrategyPerformance, result.Strategy)
	require.Equal(t, 6, dbtest.LoadAllocation(t, f.conn, product.ID, chans[0].ID).AllocatedQuantity)
	require.Equal(t, 2, dbtest.LoadAllocation(t, f.conn, product.ID, chans[1].ID).AllocatedQuantity)
}

func TestAllocateDemandUsesDemandSource(t *testing.T) {
	var demand staticDemand
	f := newFixture(t, func(p *ServiceParams) { p.Demand = &demand })
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.conn, f.storeID, 100)
	chans := f.channels(t, 2)
	demand = staticDemand{chans[0].ID: 10, chans[1].ID: 30}

	strategy := enums.AllocationStrategyDemand
	_, err := f.svc.Allocate(ctx, product.ID, &strategy, AllocateOptions{})
	require.NoError(t, err)

	first := dbtest.LoadAllocation(t, f.conn, product.ID, chans[0].ID)
	second := dbtest.LoadAllocation(t, f.conn, product.ID, chans[1].ID)
	require.Equal(t, 25, first.AllocatedQuantity)
	require.Equal(t, 75, second.AllocatedQuantity)
	// 25% capped at 20
	require.Equal(t, 6, first.BufferQuantity)
	require.Equal(t, 18, second.BufferQuantity)
	require.Equal(t, enums.AllocationStrategyDemand, second.Strategy)
}

func TestAllocateCustomBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.conn, f.storeID, 10)
	chans := f.channels(t, 2)

	strategy := enums.AllocationStrategyCustom
	_, err := f.svc.Allocate(ctx, product.ID, &strategy, AllocateOptions{
		Bounds: map[uuid.UUID]Bounds{
			chans[0].ID: {Min: 1, Preferred: 3, Max: 4},
			chans[1].ID: {Min: 2, Preferred: 2, Max: 2},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 4, dbtest.LoadAllocation(t, f.conn, product.ID, chans[0].ID).AllocatedQuantity)
	require.Equal(t, 2, dbtest.LoadAllocation(t, f.conn, product.ID, chans[1].ID).AllocatedQuantity)

	_, err = f.svc.Allocate(ctx, product.ID, &strategy, AllocateOptions{
		Bounds: map[uuid.UUID]Bounds{chans[0].ID: {Min: 5, Max: 1}},
	})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), "got %v", err)
	require.Equal(t, 4, dbtest.LoadAllocation(t, f.conn, product.ID, chans[0].ID).AllocatedQuantity)
}

func TestAllocateUnknownProduct(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Allocate(context.Background(), uuid.New(), nil, AllocateOptions{})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound), "got %v", err)

	_, err = f.svc.Allocate(context.Background(), uuid.Nil, nil, AllocateOptions{})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), "got %v", err)
}

func TestReserveWithinAllocation(t *testing.T) {
	f := newFixture(t)
	calls := f.countingReallocate()
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.conn, f.storeID, 10)
	chans := f.channels(t, 1)
	dbtest.SeedAllocation(t, f.conn, product.ID, chans[0].ID, 5, 0)

	require.NoError(t, f.svc.Reserve(ctx, StockMovement{ProductID: product.ID, ChannelID: chans[0].ID, Quantity: 3, OrderID: "o-1"}))
	require.Equal(t, 0, *calls)
	require.Equal(t, 3, dbtest.LoadAllocation(t, f.conn, product.ID, chans[0].ID).ReservedQuantity)
}

func TestReserveReallocatesOnceThenSucceeds(t *testing.T) {
	f := newFixture(t)
	calls := f.countingReallocate()
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.conn, f.storeID, 10)
	chans := f.channels(t, 2)

	require.NoError(t, f.svc.Reserve(ctx, StockMovement{ProductID: product.ID, ChannelID: chans[0].ID, Quantity: 3}))
	require.Equal(t, 1, *calls)

	row := dbtest.LoadAllocation(t, f.conn, product.ID, chans[0].ID)
	require.Equal(t, 5, row.AllocatedQuantity)
	require.Equal(t, 3, row.ReservedQuantity)
}

func TestReserveRejectsAfterSingleReallocation(t *testing.T) {
	f := newFixture(t)
	calls := f.countingReallocate()
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.conn, f.storeID, 4)
	chans := f.channels(t, 2)
	dbtest.SeedAllocation(t, f.conn, product.ID, chans[0].ID, 2, 0)
	dbtest.SeedAllocation(t, f.conn, product.ID, chans[1].ID, 2, 0)

	err := f.svc.Reserve(ctx, StockMovement{ProductID: product.ID, ChannelID: chans[0].ID, Quantity: 3})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientStock), "got %v", err)
	require.Equal(t, 1, *calls)
	require.Equal(t, 0, dbtest.LoadAllocation(t, f.conn, product.ID, chans[0].ID).ReservedQuantity)
}

func TestReserveUnknownChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.conn, f.storeID, 4)
	f.channels(t, 1)

	err := f.svc.Reserve(ctx, StockMovement{ProductID: product.ID, ChannelID: uuid.New(), Quantity: 1})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound), "got %v", err)
}

func TestReserveValidatesMovement(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Reserve(context.Background(), StockMovement{ProductID: uuid.New(), ChannelID: uuid.New()})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), "got %v", err)
}

func TestReleaseFloorsAtZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.conn, f.storeID, 10)
	chans := f.channels(t, 1)
	dbtest.SeedAllocation(t, f.conn, product.ID, chans[0].ID, 5, 2)

	require.NoError(t, f.svc.Release(ctx, StockMovement{ProductID: product.ID, ChannelID: chans[0].ID, Quantity: 5}))
	row := dbtest.LoadAllocation(t, f.conn, product.ID, chans[0].ID)
	require.Equal(t, 0, row.ReservedQuantity)
	require.Equal(t, 5, row.AllocatedQuantity)
}

func TestConfirmConsumesReservationAndStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.conn, f.storeID, 10, func(p *models.Product) { p.ReorderPoint = 2 })
	chans := f.channels(t, 2)
	dbtest.SeedAllocation(t, f.conn, product.ID, chans[0].ID, 5, 2)
	dbtest.SeedAllocation(t, f.conn, product.ID, chans[1].ID, 5, 0)

	require.NoError(t, f.svc.Confirm(ctx, StockMovement{ProductID: product.ID, ChannelID: chans[0].ID, Quantity: 2, OrderID: "o-9"}))

	row := dbtest.LoadAllocation(t, f.conn, product.ID, chans[0].ID)
	require.Equal(t, 3, row.AllocatedQuantity)
	require.Equal(t, 0, row.ReservedQuantity)

	var stored models.Product
	require.NoError(t, f.conn.First(&stored, "id = ?", product.ID).Error)
	require.Equal(t, 8, stored.CurrentStock)

	var sales []models.ChannelSale
	require.NoError(t, f.conn.Find(&sales).Error)
	require.Len(t, sales, 1)
	require.Equal(t, "o-9", sales[0].OrderID)

	var events int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Count(&events).Error)
	require.Zero(t, events)
}

func TestConfirmAtReorderPointRebalancesAndEmits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.conn, f.storeID, 10, func(p *models.Product) { p.ReorderPoint = 5 })
	chans := f.channels(t, 2)
	dbtest.SeedAllocation(t, f.conn, product.ID, chans[0].ID, 5, 2)
	dbtest.SeedAllocation(t, f.conn, product.ID, chans[1].ID, 5, 0)

	require.NoError(t, f.svc.Confirm(ctx, StockMovement{ProductID: product.ID, ChannelID: chans[0].ID, Quantity: 6}))

	var stored models.Product
	require.NoError(t, f.conn.First(&stored, "id = ?", product.ID).Error)
	require.Equal(t, 4, stored.CurrentStock)
	require.Equal(t, 2, dbtest.LoadAllocation(t, f.conn, product.ID, chans[0].ID).AllocatedQuantity)
	require.Equal(t, 2, dbtest.LoadAllocation(t, f.conn, product.ID, chans[1].ID).AllocatedQuantity)

	var event models.OutboxEvent
	require.NoError(t, f.conn.Where("event_type = ?", enums.EventLowStockRebalanced).First(&event).Error)
	require.Equal(t, product.ID, event.AggregateID)
	require.Equal(t, enums.AggregateProduct, event.AggregateType)
}

func TestConfirmFloorsStockAtZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.conn, f.storeID, 1)
	chans := f.channels(t, 1)
	dbtest.SeedAllocation(t, f.conn, product.ID, chans[0].ID, 1, 1)

	require.NoError(t, f.svc.Confirm(ctx, StockMovement{ProductID: product.ID, ChannelID: chans[0].ID, Quantity: 3}))

	var stored models.Product
	require.NoError(t, f.conn.First(&stored, "id = ?", product.ID).Error)
	require.Equal(t, 0, stored.CurrentStock)
	row := dbtest.LoadAllocation(t, f.conn, product.ID, chans[0].ID)
	require.Equal(t, 0, row.AllocatedQuantity)
	require.Equal(t, 0, row.ReservedQuantity)
}

func TestCheckOversellingForcesEqualPass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.conn, f.storeID, 6, func(p *models.Product) {
		p.AllocationStrategy = enums.AllocationStrategyPriority
	})
	chans := f.channels(t, 2)
	dbtest.SeedAllocation(t, f.conn, product.ID, chans[0].ID, 5, 0)
	dbtest.SeedAllocation(t, f.conn, product.ID, chans[1].ID, 5, 0)

	report, err := f.svc.CheckOverselling(ctx, product.ID)
	require.NoError(t, err)
	require.True(t, report.Corrected)
	require.Equal(t, 10, report.AllocatedTotal)
	require.Equal(t, 6, report.CurrentStock)

	for _, ch := range chans {
		row := dbtest.LoadAllocation(t, f.conn, product.ID, ch.ID)
		require.Equal(t, 3, row.AllocatedQuantity)
		require.Equal(t, enums.AllocationStrategyEqual, row.Strategy)
	}

	report, err = f.svc.CheckOverselling(ctx, product.ID)
	require.NoError(t, err)
	require.False(t, report.Corrected)
}

func TestScanOversellingReportsCorrectedProducts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	oversold := dbtest.SeedProduct(t, f.conn, f.storeID, 2)
	healthy := dbtest.SeedProduct(t, f.conn, f.storeID, 20)
	chans := f.channels(t, 1)
	dbtest.SeedAllocation(t, f.conn, oversold.ID, chans[0].ID, 5, 0)
	dbtest.SeedAllocation(t, f.conn, healthy.ID, chans[0].ID, 5, 0)

	reports, err := f.svc.ScanOverselling(ctx, f.storeID)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Equal(t, oversold.ID, reports[0].ProductID)
	require.Equal(t, 2, dbtest.LoadAllocation(t, f.conn, oversold.ID, chans[0].ID).AllocatedQuantity)
}

func TestSetChannelAllocationEnforcesInvariants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := dbtest.SeedProduct(t, f.conn, f.storeID, 10)
	chans := f.channels(t, 2)
	dbtest.SeedAllocation(t, f.conn, product.ID, chans[0].ID, 4, 2)
	dbtest.SeedAllocation(t, f.conn, product.ID, chans[1].ID, 4, 0)

	_, err := f.svc.SetChannelAllocation(ctx, product.ID, chans[0].ID, 1)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeAllocationInvariant), "got %v", err)

	_, err = f.svc.SetChannelAllocation(ctx, product.ID, chans[0].ID, 7)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeAllocationInvariant), "got %v", err)

	_, err = f.svc.SetChannelAllocation(ctx, product.ID, chans[0].ID, -1)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), "got %v", err)

	_, err = f.svc.SetChannelAllocation(ctx, product.ID, uuid.New(), 1)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound), "got %v", err)

	row, err := f.svc.SetChannelAllocation(ctx, product.ID, chans[0].ID, 6)
	require.NoError(t, err)
	require.Equal(t, 6, row.AllocatedQuantity)
	require.Equal(t, 6, dbtest.LoadAllocation(t, f.conn, product.ID, chans[0].ID).AllocatedQuantity)
}

func TestListAllocationsUnknownProduct(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ListAllocations(context.Background(), uuid.New())
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound), "got %v", err)
}

func TestBootstrapChannelCreatesZeroRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := dbtest.SeedProduct(t, f.conn, f.storeID, 3)
	second := dbtest.SeedProduct(t, f.conn, f.storeID, 3)
	chans := f.channels(t, 1)

	count, err := NewRepository(f.conn).BootstrapChannel(ctx, f.storeID, chans[0])
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.Equal(t, 0, dbtest.LoadAllocation(t, f.conn, first.ID, chans[0].ID).AllocatedQuantity)
	require.Equal(t, 0, dbtest.LoadAllocation(t, f.conn, second.ID, chans[0].ID).AllocatedQuantity)

	// idempotent
	_, err = NewRepository(f.conn).BootstrapChannel(ctx, f.storeID, chans[0])
	require.NoError(t, err)
}
