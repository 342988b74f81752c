package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/angelmondragon/channelstock-backend/pkg/enums"
)

// ChannelResult is the outcome of one channel inside a sync batch.
type ChannelResult struct {
	ChannelID      uuid.UUID         `json:"channel_id"`
	ChannelType    enums.ChannelType `json:"channel_type,omitempty"`
	Success        bool              `json:"success"`
	TotalProcessed int               `json:"total_processed"`
	Successful     int               `json:"successful"`
	Failed         int               `json:"failed"`
	Error          string            `json:"error,omitempty"`
	ErrorCode      string            `json:"error_code,omitempty"`
	Retryable      bool              `json:"retryable,omitempty"`
	DurationMS     int64             `json:"duration_ms"`
}

// SyncOperation is the durable record of one synchronization batch.
type SyncOperation struct {
	ID                uuid.UUID                           `gorm:"column:id;type:uuid;primaryKey"`
	SyncID            uuid.UUID                           `gorm:"column:sync_id;type:uuid;not null;uniqueIndex"`
	StoreID           uuid.UUID                           `gorm:"column:store_id;type:uuid;not null;index"`
	SyncType          enums.SyncType                      `gorm:"column:sync_type;not null"`
	Status            enums.SyncStatus                    `gorm:"column:status;not null"`
	Progress          int                                 `gorm:"column:progress;not null;default:0"`
	TotalChannels     int                                 `gorm:"column:total_channels;not null"`
	CompletedChannels int                                 `gorm:"column:completed_channels;not null;default:0"`
	SuccessCount      int                                 `gorm:"column:success_count;not null;default:0"`
	FailureCount      int                                 `gorm:"column:failure_count;not null;default:0"`
	Results           datatypes.JSONType[[]ChannelResult] `gorm:"column:results;type:jsonb"`
	Error             *string                             `gorm:"column:error"`
	StartedAt         time.Time                           `gorm:"column:started_at;not null"`
	CompletedAt       *time.Time                          `gorm:"column:completed_at"`
	DurationMS        *int64                              `gorm:"column:duration_ms"`
	UpdatedAt         time.Time                           `gorm:"column:updated_at;autoUpdateTime"`
}

// SyncStatus is the per-channel row written after each push attempt.
type SyncStatus struct {
	ID             uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	ChannelID      uuid.UUID        `gorm:"column:channel_id;type:uuid;not null;index"`
	SyncID         *uuid.UUID       `gorm:"column:sync_id;type:uuid;index"`
	Status         enums.SyncStatus `gorm:"column:status;not null"`
	TotalProcessed int              `gorm:"column:total_processed;not null;default:0"`
	Successful     int              `gorm:"column:successful;not null;default:0"`
	Failed         int              `gorm:"column:failed;not null;default:0"`
	Error          *string          `gorm:"column:error"`
	SyncedAt       time.Time        `gorm:"column:synced_at;not null"`
}

func (SyncStatus) TableName() string { return "sync_status" }
