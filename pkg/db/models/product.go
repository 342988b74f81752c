package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/channelstock-backend/pkg/enums"
)

// Product is the store-scoped sellable item holding the authoritative stock count.
type Product struct {
	ID                 uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	StoreID            uuid.UUID                `gorm:"column:store_id;type:uuid;not null;index"`
	SKU                string                   `gorm:"column:sku;not null"`
	Title              string                   `gorm:"column:title;not null"`
	Price              decimal.Decimal          `gorm:"column:price;type:numeric(12,2);not null"`
	CurrentStock       int                      `gorm:"column:current_stock;not null;default:0"`
	ReservedStock      int                      `gorm:"column:reserved_stock;not null;default:0"`
	ReorderPoint       int                      `gorm:"column:reorder_point;not null;default:0"`
	AllocationStrategy enums.AllocationStrategy `gorm:"column:allocation_strategy;not null;default:'equal'"`
	IsActive           bool                     `gorm:"column:is_active;not null"`
	LastSyncedAt       *time.Time               `gorm:"column:last_synced_at"`
	CreatedAt          time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// Available is the stock that can be partitioned across channels.
func (p Product) Available() int {
	return p.CurrentStock - p.ReservedStock
}
