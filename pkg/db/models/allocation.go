package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/channelstock-backend/pkg/enums"
)

// Allocation is the share of a product's stock assigned to one channel.
type Allocation struct {
	ID                uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	ProductID         uuid.UUID                `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_allocations_product_channel"`
	ChannelID         uuid.UUID                `gorm:"column:channel_id;type:uuid;not null;uniqueIndex:ux_allocations_product_channel;index"`
	AllocatedQuantity int                      `gorm:"column:allocated_quantity;not null;default:0"`
	ReservedQuantity  int                      `gorm:"column:reserved_quantity;not null;default:0"`
	BufferQuantity    int                      `gorm:"column:buffer_quantity;not null;default:0"`
	Priority          int                      `gorm:"column:priority;not null;default:1"`
	Strategy          enums.AllocationStrategy `gorm:"column:strategy;not null;default:'equal'"`
	LastAllocatedAt   *time.Time               `gorm:"column:last_allocated_at"`
	CreatedAt         time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (Allocation) TableName() string { return "inventory_allocations" }

// Sellable is what the channel can still sell without a new pass.
func (a Allocation) Sellable() int {
	return a.AllocatedQuantity - a.ReservedQuantity
}

// ChannelSale is one confirmed sale, used as the performance weight.
type ChannelSale struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ProductID uuid.UUID `gorm:"column:product_id;type:uuid;not null;index:ix_channel_sales_product_channel_sold"`
	ChannelID uuid.UUID `gorm:"column:channel_id;type:uuid;not null;index:ix_channel_sales_product_channel_sold"`
	OrderID   string    `gorm:"column:order_id;not null"`
	Quantity  int       `gorm:"column:quantity;not null"`
	SoldAt    time.Time `gorm:"column:sold_at;not null;index:ix_channel_sales_product_channel_sold"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// DemandForecast is the forecast quantity for a product on a channel.
type DemandForecast struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ProductID        uuid.UUID `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_demand_forecasts_product_channel"`
	ChannelID        uuid.UUID `gorm:"column:channel_id;type:uuid;not null;uniqueIndex:ux_demand_forecasts_product_channel"`
	ForecastQuantity float64   `gorm:"column:forecast_quantity;not null"`
	HorizonDays      int       `gorm:"column:horizon_days;not null"`
	Confidence       string    `gorm:"column:confidence;not null;default:'low'"`
	GeneratedAt      time.Time `gorm:"column:generated_at;not null"`
}
