// Package connectors adapts each external selling channel behind one
// capability interface used by the orchestrator.
package connectors

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/channelstock-backend/pkg/enums"
)

// Connector is implemented once per channel type.
type Connector interface {
	HealthCheck(ctx context.Context) HealthStatus
	SyncInventory(ctx context.Context, req SyncRequest) (*SyncResponse, error)
	ValidateWebhookSignature(payload []byte, signature, secret string) bool
	ProcessWebhook(ctx context.Context, payload []byte) (*WebhookEvent, error)
}

// InventoryReader is implemented by connectors that can pull channel levels
// back for conflict detection.
type InventoryReader interface {
	FetchInventory(ctx context.Context, externalIDs []string) ([]ChannelLevel, error)
}

type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
)

type HealthStatus struct {
	Status HealthState `json:"status"`
	Error  string      `json:"error,omitempty"`
}

func (h HealthStatus) Healthy() bool { return h.Status == HealthHealthy }

// Credentials is the decrypted credential blob of a channel. Dialects read
// only the fields they need.
type Credentials struct {
	BaseURL       string            `json:"base_url,omitempty"`
	ShopDomain    string            `json:"shop_domain,omitempty"`
	AccessToken   string            `json:"access_token,omitempty"`
	APIKey        string            `json:"api_key,omitempty"`
	APISecret     string            `json:"api_secret,omitempty"`
	SellerID      string            `json:"seller_id,omitempty"`
	MarketplaceID string            `json:"marketplace_id,omitempty"`
	LocationID    string            `json:"location_id,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// InventoryUpdate is one product line pushed to a channel.
type InventoryUpdate struct {
	ProductID         uuid.UUID       `json:"product_id"`
	ExternalProductID string          `json:"external_product_id"`
	Quantity          int             `json:"quantity"`
	Price             decimal.Decimal `json:"price"`
	SKU               string          `json:"sku"`
}

type SyncRequest struct {
	StoreID   uuid.UUID         `json:"store_id"`
	ChannelID uuid.UUID         `json:"channel_id"`
	Updates   []InventoryUpdate `json:"updates"`
}

type SyncResponse struct {
	Success        bool   `json:"success"`
	TotalProcessed int    `json:"total_processed"`
	Successful     int    `json:"successful"`
	Failed         int    `json:"failed"`
	Error          string `json:"error,omitempty"`
}

// ChannelLevel is the stock and price a channel reports for one listing.
type ChannelLevel struct {
	ExternalProductID string
	Stock             *int
	Price             decimal.NullDecimal
}

// OrderLine is one listing inside an order webhook.
type OrderLine struct {
	ExternalProductID string `json:"external_product_id"`
	SKU               string `json:"sku,omitempty"`
	Quantity          int    `json:"quantity"`
}

// WebhookEvent is the normalized form of an inbound channel webhook.
type WebhookEvent struct {
	Type            enums.WebhookEventType `json:"type"`
	ChannelType     enums.ChannelType      `json:"channel_type"`
	ExternalEventID string                 `json:"external_event_id,omitempty"`
	OrderID         string                 `json:"order_id,omitempty"`
	Lines           []OrderLine            `json:"lines,omitempty"`
	Levels          []ChannelLevel         `json:"-"`
	OccurredAt      time.Time              `json:"occurred_at"`
}
