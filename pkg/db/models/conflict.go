package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/angelmondragon/channelstock-backend/pkg/enums"
)

// ReportedValue is one channel's view of the disputed value.
type ReportedValue struct {
	ChannelID   *uuid.UUID        `json:"channel_id,omitempty"`
	ChannelType enums.ChannelType `json:"channel_type"`
	Value       float64           `json:"value"`
	ReportedAt  time.Time         `json:"reported_at"`
}

// Conflict is a detected divergence between local and channel state.
// Resolved and failed rows are never updated again.
type Conflict struct {
	ID                 uuid.UUID                           `gorm:"column:id;type:uuid;primaryKey"`
	StoreID            uuid.UUID                           `gorm:"column:store_id;type:uuid;not null;index"`
	ProductID          uuid.UUID                           `gorm:"column:product_id;type:uuid;not null;index"`
	ChannelID          *uuid.UUID                          `gorm:"column:channel_id;type:uuid"`
	Type               enums.ConflictType                  `gorm:"column:type;not null"`
	Priority           enums.ConflictPriority              `gorm:"column:priority;not null"`
	Status             enums.ConflictStatus                `gorm:"column:status;not null;index"`
	ResolutionStrategy *enums.ResolutionStrategy           `gorm:"column:resolution_strategy"`
	LocalValue         float64                             `gorm:"column:local_value;not null;default:0"`
	ReportedValues     datatypes.JSONType[[]ReportedValue] `gorm:"column:reported_values;type:jsonb"`
	DeviationPercent   float64                             `gorm:"column:deviation_percent;not null;default:0"`
	ResolvedValue      *float64                            `gorm:"column:resolved_value"`
	FailureReason      *string                             `gorm:"column:failure_reason"`
	ResolvedBy         *string                             `gorm:"column:resolved_by"`
	DetectedAt         time.Time                           `gorm:"column:detected_at;not null"`
	ResolvedAt         *time.Time                          `gorm:"column:resolved_at"`
	ClaimToken         *uuid.UUID                          `gorm:"column:claim_token;type:uuid"`
	ClaimedAt          *time.Time                          `gorm:"column:claimed_at"`
	UpdatedAt          time.Time                           `gorm:"column:updated_at;autoUpdateTime"`
}

func (Conflict) TableName() string { return "sync_conflicts" }

// Values unwraps the reported values list.
func (c Conflict) Values() []ReportedValue {
	return c.ReportedValues.Data()
}
