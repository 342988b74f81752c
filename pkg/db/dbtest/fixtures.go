package dbtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
)

// Epoch anchors fixture timestamps so ordering by created_at is stable.
var Epoch = time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

// SeedProduct inserts an active product with the given stock.
func SeedProduct(t testing.TB, conn *gorm.DB, storeID uuid.UUID, currentStock int, mutate ...func(*models.Product)) models.Product {
	t.Helper()
	product := models.Product{
		StoreID:            storeID,
		SKU:                "SKU-" + uuid.NewString()[:8],
		Title:              "Widget",
		Price:              decimal.NewFromInt(20),
		CurrentStock:       currentStock,
		AllocationStrategy: enums.AllocationStrategyEqual,
		IsActive:           true,
		CreatedAt:          Epoch,
	}
	for _, fn := range mutate {
		fn(&product)
	}
	if err := conn.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return product
}

// SeedChannel inserts an active, sync-enabled channel. Channels seeded later
// sort after earlier ones at equal priority.
func SeedChannel(t testing.TB, conn *gorm.DB, storeID uuid.UUID, channelType enums.ChannelType, order int, mutate ...func(*models.Channel)) models.Channel {
	t.Helper()
	channel := models.Channel{
		StoreID:     storeID,
		Type:        channelType,
		Name:        string(channelType),
		IsActive:    true,
		SyncEnabled: true,
		Priority:    1,
		CreatedAt:   Epoch.Add(time.Duration(order) * time.Minute),
	}
	for _, fn := range mutate {
		fn(&channel)
	}
	if err := conn.Create(&channel).Error; err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	return channel
}

// SeedAllocation inserts an allocation row.
func SeedAllocation(t testing.TB, conn *gorm.DB, productID, channelID uuid.UUID, allocated, reserved int) models.Allocation {
	t.Helper()
	row := models.Allocation{
		ProductID:         productID,
		ChannelID:         channelID,
		AllocatedQuantity: allocated,
		ReservedQuantity:  reserved,
		Priority:          1,
		Strategy:          enums.AllocationStrategyEqual,
	}
	if err := conn.Create(&row).Error; err != nil {
		t.Fatalf("seed allocation: %v", err)
	}
	return row
}

// LoadAllocation reads the row of one product on one channel.
func LoadAllocation(t testing.TB, conn *gorm.DB, productID, channelID uuid.UUID) models.Allocation {
	t.Helper()
	var row models.Allocation
	if err := conn.Where("product_id = ? AND channel_id = ?", productID, channelID).First(&row).Error; err != nil {
		t.Fatalf("load allocation: %v", err)
	}
	return row
}
