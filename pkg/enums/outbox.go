package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type column on outbox_events.
type OutboxAggregateType string

const (
	AggregateProduct  OutboxAggregateType = "product"
	AggregateChannel  OutboxAggregateType = "channel"
	AggregateConflict OutboxAggregateType = "conflict"
	AggregateSync     OutboxAggregateType = "sync_operation"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateProduct,
	AggregateChannel,
	AggregateConflict,
	AggregateSync,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type column on outbox_events.
type OutboxEventType string

const (
	EventConflictDetected    OutboxEventType = "conflict_detected"
	EventConflictResolved    OutboxEventType = "conflict_resolved"
	EventLowStockRebalanced  OutboxEventType = "low_stock_rebalanced"
	EventSyncCompleted       OutboxEventType = "sync_completed"
	EventChannelConnected    OutboxEventType = "channel_connected"
	EventChannelDisconnected OutboxEventType = "channel_disconnected"
)

var validOutboxEventTypes = []OutboxEventType{
	EventConflictDetected,
	EventConflictResolved,
	EventLowStockRebalanced,
	EventSyncCompleted,
	EventChannelConnected,
	EventChannelDisconnected,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
