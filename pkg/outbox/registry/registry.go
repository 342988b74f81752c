// Package registry routes outbox rows to Pub/Sub topics and decodes their
// typed payloads before publishing.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/angelmondragon/channelstock-backend/pkg/config"
	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	"github.com/angelmondragon/channelstock-backend/pkg/outbox"
	"github.com/angelmondragon/channelstock-backend/pkg/outbox/payloads"
)

// EventDescriptor is the routing entry for one event type.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	decode        func(json.RawMessage) (any, error)
}

// ResolvedEvent is an outbox row that passed validation.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that will never publish as stored. The
// dispatcher dead-letters it instead of scheduling a retry.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func permanent(format string, args ...any) error {
	return NonRetryableError{Err: fmt.Errorf(format, args...)}
}

// route builds a descriptor whose payload decodes into a fresh T.
func route[T any](event enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) EventDescriptor {
	return EventDescriptor{
		EventType:     event,
		AggregateType: aggregate,
		Topic:         topic,
		decode: func(raw json.RawMessage) (any, error) {
			payload := new(T)
			if err := json.Unmarshal(raw, payload); err != nil {
				return nil, err
			}
			return payload, nil
		},
	}
}

// NewEventRegistry sends stock and conflict events to the inventory topic and
// channel lifecycle events to the channel topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	var missing []error
	if cfg.InventoryTopic == "" {
		missing = append(missing, errors.New("inventory topic is required"))
	}
	if cfg.ChannelTopic == "" {
		missing = append(missing, errors.New("channel topic is required"))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}

	inv, ch := cfg.InventoryTopic, cfg.ChannelTopic
	descriptors := []EventDescriptor{
		route[payloads.ConflictDetectedEvent](enums.EventConflictDetected, enums.AggregateConflict, inv),
		route[payloads.ConflictResolvedEvent](enums.EventConflictResolved, enums.AggregateConflict, inv),
		route[payloads.LowStockRebalancedEvent](enums.EventLowStockRebalanced, enums.AggregateProduct, inv),
		route[payloads.SyncCompletedEvent](enums.EventSyncCompleted, enums.AggregateSync, inv),
		route[payloads.ChannelConnectedEvent](enums.EventChannelConnected, enums.AggregateChannel, ch),
		route[payloads.ChannelDisconnectedEvent](enums.EventChannelDisconnected, enums.AggregateChannel, ch),
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(descriptors))}
	for _, desc := range descriptors {
		reg.entries[desc.EventType] = desc
	}
	return reg, nil
}

// Topics lists the distinct topics in sorted order.
func (r *EventRegistry) Topics() []string {
	topics := make([]string, 0, 2)
	for _, desc := range r.entries {
		topics = append(topics, desc.Topic)
	}
	slices.Sort(topics)
	return slices.Compact(topics)
}

// Resolve checks the row against its descriptor and decodes the payload.
// Every failure is a NonRetryableError.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, permanent("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, permanent("aggregate mismatch: %s carries %s, want %s", event.EventType, event.AggregateType, desc.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, permanent("%s has no aggregate_id", event.EventType)
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, permanent("decode envelope: %w", err)
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, permanent("%s envelope has no data", event.EventType)
	}

	payload, err := desc.decode(envelope.Data)
	if err != nil {
		return nil, permanent("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
