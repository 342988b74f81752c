package synctracker

import (
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
)

// Snapshot is the cached view of a sync operation shared by every layer.
type Snapshot struct {
	SyncID            uuid.UUID              `json:"sync_id"`
	StoreID           uuid.UUID              `json:"store_id"`
	SyncType          enums.SyncType         `json:"sync_type"`
	Status            enums.SyncStatus       `json:"status"`
	Progress          int                    `json:"progress"`
	TotalChannels     int                    `json:"total_channels"`
	CompletedChannels int                    `json:"completed_channels"`
	SuccessCount      int                    `json:"success_count"`
	FailureCount      int                    `json:"failure_count"`
	Results           []models.ChannelResult `json:"results"`
	Error             string                 `json:"error,omitempty"`
	StartedAt         time.Time              `json:"started_at"`
	CompletedAt       *time.Time             `json:"completed_at,omitempty"`
	DurationMS        *int64                 `json:"duration_ms,omitempty"`
}

func fromModel(op models.SyncOperation) Snapshot {
	results := op.Results.Data()
	if results == nil {
		results = []models.ChannelResult{}
	}
	snap := Snapshot{
		SyncID:            op.SyncID,
		StoreID:           op.StoreID,
		SyncType:          op.SyncType,
		Status:            op.Status,
		Progress:          op.Progress,
		TotalChannels:     op.TotalChannels,
		CompletedChannels: op.CompletedChannels,
		SuccessCount:      op.SuccessCount,
		FailureCount:      op.FailureCount,
		Results:           results,
		StartedAt:         op.StartedAt.UTC(),
		CompletedAt:       op.CompletedAt,
		DurationMS:        op.DurationMS,
	}
	if op.Error != nil {
		snap.Error = *op.Error
	}
	return snap
}

func (s Snapshot) toModel() models.SyncOperation {
	op := models.SyncOperation{
		SyncID:            s.SyncID,
		StoreID:           s.StoreID,
		SyncType:          s.SyncType,
		Status:            s.Status,
		Progress:          s.Progress,
		TotalChannels:     s.TotalChannels,
		CompletedChannels: s.CompletedChannels,
		SuccessCount:      s.SuccessCount,
		FailureCount:      s.FailureCount,
		Results:           datatypes.NewJSONType(s.Results),
		StartedAt:         s.StartedAt,
		CompletedAt:       s.CompletedAt,
		DurationMS:        s.DurationMS,
	}
	if s.Error != "" {
		msg := s.Error
		op.Error = &msg
	}
	return op
}

// clone copies the results slice so cached snapshots never share backing arrays.
func (s Snapshot) clone() Snapshot {
	s.Results = append([]models.ChannelResult(nil), s.Results...)
	if s.Results == nil {
		s.Results = []models.ChannelResult{}
	}
	return s
}

func progressOf(completed, total int) int {
	if total <= 0 {
		return 100
	}
	p := int(math.Round(float64(completed) / float64(total) * 100))
	if p > 100 {
		return 100
	}
	return p
}

// recount derives counters and status from the result list.
func (s *Snapshot) recount() {
	s.CompletedChannels = len(s.Results)
	s.SuccessCount = 0
	s.FailureCount = 0
	for _, r := range s.Results {
		if r.Success {
			s.SuccessCount++
		} else {
			s.FailureCount++
		}
	}
	s.Progress = progressOf(s.CompletedChannels, s.TotalChannels)
}

func (s *Snapshot) finish(now time.Time) {
	if s.FailureCount > 0 {
		s.Status = enums.SyncStatusCompletedWithErrors
	} else {
		s.Status = enums.SyncStatusCompleted
	}
	s.stop(now)
}

func (s *Snapshot) stop(now time.Time) {
	completed := now
	duration := now.Sub(s.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	s.CompletedAt = &completed
	s.DurationMS = &duration
}
