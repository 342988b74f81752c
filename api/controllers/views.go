package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
)

type channelView struct {
	ID               uuid.UUID         `json:"id"`
	Type             enums.ChannelType `json:"type"`
	Name             string            `json:"name"`
	ExternalRef      string            `json:"external_ref,omitempty"`
	IsActive         bool              `json:"is_active"`
	SyncEnabled      bool              `json:"sync_enabled"`
	Priority         int               `json:"priority"`
	ReliabilityScore *float64          `json:"reliability_score,omitempty"`
	LastSyncedAt     *time.Time        `json:"last_synced_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// newChannelView drops the webhook secret.
func newChannelView(ch models.Channel) channelView {
	return channelView{
		ID:               ch.ID,
		Type:             ch.Type,
		Name:             ch.Name,
		ExternalRef:      ch.ExternalRef,
		IsActive:         ch.IsActive,
		SyncEnabled:      ch.SyncEnabled,
		Priority:         ch.Priority,
		ReliabilityScore: ch.ReliabilityScore,
		LastSyncedAt:     ch.LastSyncedAt,
		CreatedAt:        ch.CreatedAt,
	}
}

type allocationView struct {
	ChannelID       uuid.UUID                `json:"channel_id"`
	Allocated       int                      `json:"allocated_quantity"`
	Reserved        int                      `json:"reserved_quantity"`
	Buffer          int                      `json:"buffer_quantity"`
	Sellable        int                      `json:"sellable_quantity"`
	Priority        int                      `json:"priority"`
	Strategy        enums.AllocationStrategy `json:"strategy"`
	LastAllocatedAt *time.Time               `json:"last_allocated_at,omitempty"`
}

func newAllocationViews(rows []models.Allocation) []allocationView {
	out := make([]allocationView, 0, len(rows))
	for _, a := range rows {
		out = append(out, allocationView{
			ChannelID:       a.ChannelID,
			Allocated:       a.AllocatedQuantity,
			Reserved:        a.ReservedQuantity,
			Buffer:          a.BufferQuantity,
			Sellable:        a.Sellable(),
			Priority:        a.Priority,
			Strategy:        a.Strategy,
			LastAllocatedAt: a.LastAllocatedAt,
		})
	}
	return out
}

type conflictView struct {
	ID                 uuid.UUID                 `json:"id"`
	ProductID          uuid.UUID                 `json:"product_id"`
	ChannelID          *uuid.UUID                `json:"channel_id,omitempty"`
	Type               enums.ConflictType        `json:"type"`
	Priority           enums.ConflictPriority    `json:"priority"`
	Status             enums.ConflictStatus      `json:"status"`
	LocalValue         float64                   `json:"local_value"`
	ReportedValues     []models.ReportedValue    `json:"reported_values"`
	DeviationPercent   float64                   `json:"deviation_percent"`
	ResolutionStrategy *enums.ResolutionStrategy `json:"resolution_strategy,omitempty"`
	ResolvedValue      *float64                  `json:"resolved_value,omitempty"`
	FailureReason      *string                   `json:"failure_reason,omitempty"`
	ResolvedBy         *string                   `json:"resolved_by,omitempty"`
	DetectedAt         time.Time                 `json:"detected_at"`
	ResolvedAt         *time.Time                `json:"resolved_at,omitempty"`
}

func newConflictView(c models.Conflict) conflictView {
	values := c.Values()
	if values == nil {
		values = []models.ReportedValue{}
	}
	return conflictView{
		ID:                 c.ID,
		ProductID:          c.ProductID,
		ChannelID:          c.ChannelID,
		Type:               c.Type,
		Priority:           c.Priority,
		Status:             c.Status,
		LocalValue:         c.LocalValue,
		ReportedValues:     values,
		DeviationPercent:   c.DeviationPercent,
		ResolutionStrategy: c.ResolutionStrategy,
		ResolvedValue:      c.ResolvedValue,
		FailureReason:      c.FailureReason,
		ResolvedBy:         c.ResolvedBy,
		DetectedAt:         c.DetectedAt,
		ResolvedAt:         c.ResolvedAt,
	}
}

type conflictPageView struct {
	Conflicts  []conflictView `json:"conflicts"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func newConflictViews(rows []models.Conflict) []conflictView {
	out := make([]conflictView, 0, len(rows))
	for _, c := range rows {
		out = append(out, newConflictView(c))
	}
	return out
}
