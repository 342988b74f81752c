package payloads

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/channelstock-backend/pkg/enums"
)

// ConflictDetectedEvent is emitted once per newly recorded conflict.
type ConflictDetectedEvent struct {
	ConflictID       uuid.UUID              `json:"conflict_id"`
	StoreID          uuid.UUID              `json:"store_id"`
	ProductID        uuid.UUID              `json:"product_id"`
	ChannelID        *uuid.UUID             `json:"channel_id,omitempty"`
	Type             enums.ConflictType     `json:"type"`
	Priority         enums.ConflictPriority `json:"priority"`
	DeviationPercent float64                `json:"deviation_percent"`
}

// ConflictResolvedEvent is emitted when a conflict reaches a terminal state.
type ConflictResolvedEvent struct {
	ConflictID    uuid.UUID                `json:"conflict_id"`
	StoreID       uuid.UUID                `json:"store_id"`
	ProductID     uuid.UUID                `json:"product_id"`
	Status        enums.ConflictStatus     `json:"status"`
	Strategy      enums.ResolutionStrategy `json:"strategy"`
	ResolvedValue *float64                 `json:"resolved_value,omitempty"`
	ResolvedBy    string                   `json:"resolved_by,omitempty"`
}

// ChannelAllocation is one row of an allocation pass summary.
type ChannelAllocation struct {
	ChannelID uuid.UUID `json:"channel_id"`
	Allocated int       `json:"allocated"`
	Reserved  int       `json:"reserved"`
	Buffer    int       `json:"buffer"`
}

// LowStockRebalancedEvent is emitted when a confirmed sale drops stock to the reorder point.
type LowStockRebalancedEvent struct {
	ProductID    uuid.UUID                `json:"product_id"`
	StoreID      uuid.UUID                `json:"store_id"`
	CurrentStock int                      `json:"current_stock"`
	ReorderPoint int                      `json:"reorder_point"`
	Strategy     enums.AllocationStrategy `json:"strategy"`
	Allocations  []ChannelAllocation      `json:"allocations"`
}

// SyncCompletedEvent summarizes a finished sync batch.
type SyncCompletedEvent struct {
	SyncID        uuid.UUID        `json:"sync_id"`
	StoreID       uuid.UUID        `json:"store_id"`
	Status        enums.SyncStatus `json:"status"`
	TotalChannels int              `json:"total_channels"`
	SuccessCount  int              `json:"success_count"`
	FailureCount  int              `json:"failure_count"`
	DurationMS    int64            `json:"duration_ms"`
}

// ChannelConnectedEvent is emitted after credentials are stored and allocations bootstrapped.
type ChannelConnectedEvent struct {
	ChannelID uuid.UUID         `json:"channel_id"`
	StoreID   uuid.UUID         `json:"store_id"`
	Type      enums.ChannelType `json:"type"`
	Name      string            `json:"name"`
}

// ChannelDisconnectedEvent is emitted when a channel is deactivated.
type ChannelDisconnectedEvent struct {
	ChannelID uuid.UUID         `json:"channel_id"`
	StoreID   uuid.UUID         `json:"store_id"`
	Type      enums.ChannelType `json:"type"`
}
