package allocation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
)

// Repository persists products, allocation rows and sales used as weights.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds an allocation repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindProduct loads a product by id.
func (r *Repository) FindProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).Where("id = ?", productID).First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	return &product, nil
}

// ListProductIDs returns the active products of a store.
func (r *Repository) ListProductIDs(ctx context.Context, storeID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("store_id = ? AND is_active = ?", storeID, true).
		Order("created_at ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list store products")
	}
	return ids, nil
}

// ListActiveChannels returns the channels taking part in allocation passes,
// highest priority first and then in connection order.
func (r *Repository) ListActiveChannels(ctx context.Context, storeID uuid.UUID) ([]models.Channel, error) {
	var channels []models.Channel
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND is_active = ?", storeID, true).
		Order("priority DESC").
		Order("created_at ASC").
		Order("id ASC").
		Find(&channels).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list active channels")
	}
	return channels, nil
}

// ListAllocations returns every allocation row of a product.
func (r *Repository) ListAllocations(ctx context.Context, productID uuid.UUID) ([]models.Allocation, error) {
	var rows []models.Allocation
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("priority DESC").
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list allocations")
	}
	return rows, nil
}

// FindAllocation loads the row for one product on one channel.
func (r *Repository) FindAllocation(ctx context.Context, productID, channelID uuid.UUID) (*models.Allocation, error) {
	var row models.Allocation
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND channel_id = ?", productID, channelID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "allocation not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load allocation")
	}
	return &row, nil
}

// EnsureAllocations inserts zeroed rows for channels that have none yet.
func (r *Repository) EnsureAllocations(ctx context.Context, productID uuid.UUID, channels []models.Channel) error {
	if len(channels) == 0 {
		return nil
	}
	rows := make([]models.Allocation, 0, len(channels))
	for _, ch := range channels {
		rows = append(rows, models.Allocation{
			ProductID: productID,
			ChannelID: ch.ID,
			Priority:  ch.Priority,
			Strategy:  enums.AllocationStrategyEqual,
		})
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}, {Name: "channel_id"}},
			DoNothing: true,
		}).
		Create(&rows).Error
	if err != nil {
		return pkgerrors.FromDB(err, "bootstrap allocations")
	}
	return nil
}

// BootstrapChannel creates zeroed rows for every product of the store on a
// newly connected channel.
func (r *Repository) BootstrapChannel(ctx context.Context, storeID uuid.UUID, channel models.Channel) (int, error) {
	ids, err := r.ListProductIDs(ctx, storeID)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := r.EnsureAllocations(ctx, id, []models.Channel{channel}); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// errStalePlan reports a reservation that moved after the pass read it.
var errStalePlan = errors.New("allocation rows changed since the pass read them")

// SavePlan writes every candidate of a plan. A row is only written while its
// reservation still equals the one the plan was built from; otherwise
// errStalePlan is returned and the caller's transaction rolls back. Rows of
// channels not in the plan are zeroed so inactive channels cannot keep selling.
func (r *Repository) SavePlan(ctx context.Context, productID uuid.UUID, plan Plan, now time.Time) error {
	inPlan := make([]uuid.UUID, 0, len(plan.Candidates))
	for _, c := range plan.Candidates {
		res := r.db.WithContext(ctx).
			Model(&models.Allocation{}).
			Where("product_id = ? AND channel_id = ? AND reserved_quantity = ?", productID, c.ChannelID, c.seen).
			Updates(map[string]any{
				"allocated_quantity": c.Allocated,
				"reserved_quantity":  c.Reserved,
				"buffer_quantity":    c.Buffer,
				"priority":           c.Priority,
				"strategy":           plan.Strategy,
				"last_allocated_at":  now,
			})
		if res.Error != nil {
			return pkgerrors.FromDB(res.Error, "save allocation")
		}
		if res.RowsAffected == 0 {
			return errStalePlan
		}
		inPlan = append(inPlan, c.ChannelID)
	}

	query := r.db.WithContext(ctx).
		Model(&models.Allocation{}).
		Where("product_id = ?", productID)
	if len(inPlan) > 0 {
		query = query.Where("channel_id NOT IN ?", inPlan)
	}
	err := query.Updates(map[string]any{
		"allocated_quantity": 0,
		"reserved_quantity":  0,
		"buffer_quantity":    0,
		"last_allocated_at":  now,
	}).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "zero inactive allocations")
	}
	return nil
}

// SetAllocated overwrites one channel's allocation.
func (r *Repository) SetAllocated(ctx context.Context, productID, channelID uuid.UUID, allocated, buffer int, now time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.Allocation{}).
		Where("product_id = ? AND channel_id = ?", productID, channelID).
		Updates(map[string]any{
			"allocated_quantity": allocated,
			"buffer_quantity":    buffer,
			"last_allocated_at":  now,
		})
	if res.Error != nil {
		return pkgerrors.FromDB(res.Error, "set allocation")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "allocation not found")
	}
	return nil
}

// TryReserve increments reserved_quantity only when the channel still has
// qty sellable units. It reports whether the row was updated.
func (r *Repository) TryReserve(ctx context.Context, productID, channelID uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Allocation{}).
		Where("product_id = ? AND channel_id = ? AND allocated_quantity - reserved_quantity >= ?", productID, channelID, qty).
		Update("reserved_quantity", gorm.Expr("reserved_quantity + ?", qty))
	if res.Error != nil {
		return false, pkgerrors.FromDB(res.Error, "reserve allocation")
	}
	return res.RowsAffected > 0, nil
}

// Release decrements reserved_quantity, floored at zero.
func (r *Repository) Release(ctx context.Context, productID, channelID uuid.UUID, qty int) error {
	res := r.db.WithContext(ctx).
		Model(&models.Allocation{}).
		Where("product_id = ? AND channel_id = ?", productID, channelID).
		Update("reserved_quantity", floorAtZero("reserved_quantity", qty))
	if res.Error != nil {
		return pkgerrors.FromDB(res.Error, "release allocation")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "allocation not found")
	}
	return nil
}

// ConsumeAllocation decrements allocated and reserved quantities, floored at zero.
func (r *Repository) ConsumeAllocation(ctx context.Context, productID, channelID uuid.UUID, qty int) error {
	res := r.db.WithContext(ctx).
		Model(&models.Allocation{}).
		Where("product_id = ? AND channel_id = ?", productID, channelID).
		Updates(map[string]any{
			"allocated_quantity": floorAtZero("allocated_quantity", qty),
			"reserved_quantity":  floorAtZero("reserved_quantity", qty),
		})
	if res.Error != nil {
		return pkgerrors.FromDB(res.Error, "consume allocation")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "allocation not found")
	}
	return nil
}

// DecrementStock lowers current_stock, floored at zero.
func (r *Repository) DecrementStock(ctx context.Context, productID uuid.UUID, qty int) error {
	res := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", productID).
		Update("current_stock", floorAtZero("current_stock", qty))
	if res.Error != nil {
		return pkgerrors.FromDB(res.Error, "decrement stock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return nil
}

// InsertSale records a confirmed sale.
func (r *Repository) InsertSale(ctx context.Context, sale *models.ChannelSale) error {
	if err := r.db.WithContext(ctx).Create(sale).Error; err != nil {
		return pkgerrors.FromDB(err, "record sale")
	}
	return nil
}

type channelTotal struct {
	ChannelID uuid.UUID
	Total     float64
}

// SalesSince sums units sold per channel since the cutoff.
func (r *Repository) SalesSince(ctx context.Context, productID uuid.UUID, since time.Time) (map[uuid.UUID]float64, error) {
	var rows []channelTotal
	err := r.db.WithContext(ctx).
		Model(&models.ChannelSale{}).
		Select("channel_id, SUM(quantity) AS total").
		Where("product_id = ? AND sold_at >= ?", productID, since.UTC()).
		Group("channel_id").
		Scan(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum channel sales")
	}
	out := make(map[uuid.UUID]float64, len(rows))
	for _, row := range rows {
		out[row.ChannelID] = row.Total
	}
	return out, nil
}

// Forecasts returns the stored forecast quantity per channel.
func (r *Repository) Forecasts(ctx context.Context, productID uuid.UUID) (map[uuid.UUID]float64, error) {
	var rows []models.DemandForecast
	if err := r.db.WithContext(ctx).Where("product_id = ?", productID).Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load forecasts")
	}
	out := make(map[uuid.UUID]float64, len(rows))
	for _, row := range rows {
		out[row.ChannelID] = row.ForecastQuantity
	}
	return out, nil
}

// DeleteChannel removes every allocation row of a channel.
func (r *Repository) DeleteChannel(ctx context.Context, channelID uuid.UUID) error {
	err := r.db.WithContext(ctx).Where("channel_id = ?", channelID).Delete(&models.Allocation{}).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete channel allocations")
	}
	return nil
}

func floorAtZero(column string, qty int) clause.Expr {
	return gorm.Expr("CASE WHEN "+column+" > ? THEN "+column+" - ? ELSE 0 END", qty, qty)
}
