package forecast

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
)

// Sale is the slice of a channel sale the forecaster needs.
type Sale struct {
	Quantity int
	SoldAt   time.Time
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// SalesSince returns the sales of a product on a channel, oldest first.
func (r *Repository) SalesSince(ctx context.Context, productID, channelID uuid.UUID, since time.Time) ([]Sale, error) {
	var rows []Sale
	err := r.db.WithContext(ctx).
		Model(&models.ChannelSale{}).
		Select("quantity, sold_at").
		Where("product_id = ? AND channel_id = ? AND sold_at >= ?", productID, channelID, since.UTC()).
		Order("sold_at ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load channel sales")
	}
	return rows, nil
}

// Stored returns the persisted forecasts of a product keyed by channel.
func (r *Repository) Stored(ctx context.Context, productID uuid.UUID) (map[uuid.UUID]models.DemandForecast, error) {
	var rows []models.DemandForecast
	if err := r.db.WithContext(ctx).Where("product_id = ?", productID).Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load forecasts")
	}
	out := make(map[uuid.UUID]models.DemandForecast, len(rows))
	for _, row := range rows {
		out[row.ChannelID] = row
	}
	return out, nil
}

// Upsert replaces the forecast of a (product, channel) pair.
func (r *Repository) Upsert(ctx context.Context, row *models.DemandForecast) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}, {Name: "channel_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"forecast_quantity", "horizon_days", "confidence", "generated_at"}),
		}).
		Create(row).Error
	if err != nil {
		return pkgerrors.FromDB(err, "save forecast")
	}
	return nil
}
