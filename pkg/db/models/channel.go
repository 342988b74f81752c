package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/channelstock-backend/pkg/enums"
)

// Channel is an external selling surface connected by a store.
type Channel struct {
	ID               uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	StoreID          uuid.UUID         `gorm:"column:store_id;type:uuid;not null;index"`
	Type             enums.ChannelType `gorm:"column:type;not null"`
	Name             string            `gorm:"column:name;not null"`
	ExternalRef      string            `gorm:"column:external_ref;not null;default:''"`
	IsActive         bool              `gorm:"column:is_active;not null"`
	SyncEnabled      bool              `gorm:"column:sync_enabled;not null"`
	WebhookSecret    *string           `gorm:"column:webhook_secret"`
	Priority         int               `gorm:"column:priority;not null;default:1"`
	ReliabilityScore *float64          `gorm:"column:reliability_score"`
	LastSyncedAt     *time.Time        `gorm:"column:last_synced_at"`
	CreatedAt        time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// ChannelCredential stores the sealed connector credentials for a channel.
type ChannelCredential struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ChannelID  uuid.UUID `gorm:"column:channel_id;type:uuid;not null;uniqueIndex"`
	Ciphertext []byte    `gorm:"column:ciphertext;not null"`
	Nonce      []byte    `gorm:"column:nonce;not null"`
	KeyVersion int       `gorm:"column:key_version;not null;default:1"`
	IsValid    bool      `gorm:"column:is_valid;not null"`
	LastError  *string   `gorm:"column:last_error"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// ChannelProduct maps a product to its listing on a channel and keeps the
// last state the channel reported for it.
type ChannelProduct struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	ProductID         uuid.UUID           `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_channel_products_product_channel"`
	ChannelID         uuid.UUID           `gorm:"column:channel_id;type:uuid;not null;uniqueIndex:ux_channel_products_product_channel;index"`
	ExternalProductID string              `gorm:"column:external_product_id;not null"`
	SyncEnabled       bool                `gorm:"column:sync_enabled;not null"`
	LastSyncedAt      *time.Time          `gorm:"column:last_synced_at"`
	ChannelStock      *int                `gorm:"column:channel_stock"`
	ChannelPrice      decimal.NullDecimal `gorm:"column:channel_price;type:numeric(12,2)"`
	ChannelReportedAt *time.Time          `gorm:"column:channel_reported_at"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
