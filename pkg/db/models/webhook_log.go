package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/angelmondragon/channelstock-backend/pkg/enums"
)

// WebhookLog is written for every inbound webhook before it is validated.
type WebhookLog struct {
	ID              uuid.UUID                             `gorm:"column:id;type:uuid;primaryKey"`
	ChannelType     enums.ChannelType                     `gorm:"column:channel_type;not null"`
	ChannelID       *uuid.UUID                            `gorm:"column:channel_id;type:uuid;index;index:ix_webhook_logs_channel_order"`
	ExternalEventID *string                               `gorm:"column:external_event_id;index"`
	Topic           *string                               `gorm:"column:topic"`
	OrderID         *string                               `gorm:"column:order_id;index:ix_webhook_logs_channel_order"`
	Headers         datatypes.JSONType[map[string]string] `gorm:"column:headers;type:jsonb"`
	Payload         []byte                                `gorm:"column:payload;not null"`
	SignatureValid  bool                                  `gorm:"column:signature_valid;not null"`
	Status          enums.WebhookStatus                   `gorm:"column:status;not null"`
	Error           *string                               `gorm:"column:error"`
	ReceivedAt      time.Time                             `gorm:"column:received_at;not null"`
	ProcessedAt     *time.Time                            `gorm:"column:processed_at"`
}
