package synctracker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/channelstock-backend/pkg/db"
	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
)

// Repository is the durable layer of the tracker.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, op *models.SyncOperation) error {
	if err := r.db.WithContext(ctx).Create(op).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return pkgerrors.New(pkgerrors.CodeConflict, "sync operation already exists")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create sync operation")
	}
	return nil
}

func (r *Repository) Find(ctx context.Context, syncID uuid.UUID) (*models.SyncOperation, error) {
	var op models.SyncOperation
	err := r.db.WithContext(ctx).Where("sync_id = ?", syncID).First(&op).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sync operation not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sync operation")
	}
	return &op, nil
}

// SaveRunning writes op only while the stored row is still running, so a
// cancellation recorded elsewhere is never overwritten.
func (r *Repository) SaveRunning(ctx context.Context, op models.SyncOperation) error {
	res := r.db.WithContext(ctx).
		Model(&models.SyncOperation{}).
		Where("sync_id = ? AND status = ?", op.SyncID, enums.SyncStatusRunning).
		Updates(map[string]any{
			"status":             op.Status,
			"progress":           op.Progress,
			"completed_channels": op.CompletedChannels,
			"success_count":      op.SuccessCount,
			"failure_count":      op.FailureCount,
			"results":            datatypes.NewJSONType(op.Results.Data()),
			"error":              op.Error,
			"completed_at":       op.CompletedAt,
			"duration_ms":        op.DurationMS,
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "save sync operation")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidStateTransition, "sync operation is not running")
	}
	return nil
}

// ListRecent returns the latest operations of a store, newest first.
func (r *Repository) ListRecent(ctx context.Context, storeID uuid.UUID, limit int) ([]models.SyncOperation, error) {
	if limit <= 0 {
		limit = 20
	}
	var ops []models.SyncOperation
	err := r.db.WithContext(ctx).
		Where("store_id = ?", storeID).
		Order("started_at DESC").
		Limit(limit).
		Find(&ops).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list sync operations")
	}
	return ops, nil
}

// PruneFinishedBefore deletes operations that completed before cutoff.
// Running operations are never touched.
func (r *Repository) PruneFinishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	db := r.db
	if tx != nil {
		db = tx
	}
	res := db.WithContext(ctx).
		Where("completed_at IS NOT NULL AND completed_at < ?", cutoff.UTC()).
		Delete(&models.SyncOperation{})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "prune sync operations")
	}
	return res.RowsAffected, nil
}
