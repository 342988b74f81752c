package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/channelstock-backend/internal/connectors"
	dbpkg "github.com/angelmondragon/channelstock-backend/pkg/db"
	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
)

// Repository persists channel configuration, mappings and webhook logs.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindChannel returns a channel owned by storeID.
func (r *Repository) FindChannel(ctx context.Context, storeID, channelID uuid.UUID) (*models.Channel, error) {
	var ch models.Channel
	err := r.db.WithContext(ctx).Where("id = ? AND store_id = ?", channelID, storeID).First(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "channel not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load channel")
	}
	return &ch, nil
}

// FindActiveChannel resolves a webhook target by id and type.
func (r *Repository) FindActiveChannel(ctx context.Context, channelType enums.ChannelType, channelID uuid.UUID) (*models.Channel, error) {
	return r.firstActive(ctx, r.db.Where("id = ? AND type = ?", channelID, channelType))
}

// FindChannelByRef resolves a webhook target by the shop identifier the
// channel sends along.
func (r *Repository) FindChannelByRef(ctx context.Context, channelType enums.ChannelType, externalRef string) (*models.Channel, error) {
	return r.firstActive(ctx, r.db.Where("type = ? AND external_ref = ?", channelType, externalRef))
}

func (r *Repository) firstActive(ctx context.Context, q *gorm.DB) (*models.Channel, error) {
	var ch models.Channel
	err := q.WithContext(ctx).Where("is_active = ?", true).Order("created_at ASC").First(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "channel not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve channel")
	}
	return &ch, nil
}

// ListChannels returns every channel of a store, active ones first.
func (r *Repository) ListChannels(ctx context.Context, storeID uuid.UUID) ([]models.Channel, error) {
	var rows []models.Channel
	err := r.db.WithContext(ctx).
		Where("store_id = ?", storeID).
		Order("is_active DESC, priority DESC, created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list channels")
	}
	return rows, nil
}

// ListSyncableChannels returns active, sync-enabled channels whose credentials
// are still valid.
func (r *Repository) ListSyncableChannels(ctx context.Context, storeID uuid.UUID) ([]models.Channel, error) {
	var rows []models.Channel
	err := r.db.WithContext(ctx).
		Model(&models.Channel{}).
		Joins("JOIN channel_credentials cc ON cc.channel_id = channels.id").
		Where("channels.store_id = ? AND channels.is_active = ? AND channels.sync_enabled = ? AND cc.is_valid = ?", storeID, true, true, true).
		Order("channels.priority DESC, channels.created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list syncable channels")
	}
	return rows, nil
}

// ListStoreIDs returns every store with at least one active channel.
func (r *Repository) ListStoreIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Channel{}).
		Where("is_active = ?", true).
		Distinct("store_id").
		Order("store_id").
		Pluck("store_id", &ids).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stores")
	}
	return ids, nil
}

// UpsertChannel creates the channel or reactivates the one previously
// connected with the same type and external reference.
func (r *Repository) UpsertChannel(ctx context.Context, ch *models.Channel) error {
	var existing models.Channel
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND type = ? AND external_ref = ?", ch.StoreID, ch.Type, ch.ExternalRef).
		First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := r.db.WithContext(ctx).Create(ch).Error; err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "channel already connected")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create channel")
		}
		return nil
	case err != nil:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load channel")
	}

	err = r.db.WithContext(ctx).Model(&existing).Updates(map[string]any{
		"name":           ch.Name,
		"is_active":      true,
		"sync_enabled":   ch.SyncEnabled,
		"webhook_secret": ch.WebhookSecret,
		"priority":       ch.Priority,
	}).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reactivate channel")
	}
	ch.ID = existing.ID
	ch.ReliabilityScore = existing.ReliabilityScore
	ch.LastSyncedAt = existing.LastSyncedAt
	ch.CreatedAt = existing.CreatedAt
	ch.IsActive = true
	return nil
}

// DeactivateChannel stops a channel from syncing or receiving webhooks.
func (r *Repository) DeactivateChannel(ctx context.Context, channelID uuid.UUID) error {
	err := r.db.WithContext(ctx).
		Model(&models.Channel{}).
		Where("id = ?", channelID).
		Updates(map[string]any{"is_active": false, "sync_enabled": false}).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deactivate channel")
	}
	return nil
}

// SaveCredentials stores a sealed credential blob and marks it valid.
func (r *Repository) SaveCredentials(ctx context.Context, cred *models.ChannelCredential) error {
	cred.IsValid = true
	cred.LastError = nil
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "channel_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"ciphertext", "nonce", "key_version", "is_valid", "last_error", "updated_at"}),
		}).
		Create(cred).Error
	if err != nil {
		return pkgerrors.FromDB(err, "save credentials")
	}
	return nil
}

// LoadCredentials returns the sealed credentials of a channel.
func (r *Repository) LoadCredentials(ctx context.Context, channelID uuid.UUID) (*models.ChannelCredential, error) {
	var cred models.ChannelCredential
	err := r.db.WithContext(ctx).Where("channel_id = ?", channelID).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeCredential, "channel has no credentials")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credentials")
	}
	return &cred, nil
}

// MarkCredentialsInvalid excludes the channel from future batches until it is
// reconnected.
func (r *Repository) MarkCredentialsInvalid(ctx context.Context, channelID uuid.UUID, reason string) error {
	err := r.db.WithContext(ctx).
		Model(&models.ChannelCredential{}).
		Where("channel_id = ?", channelID).
		Updates(map[string]any{"is_valid": false, "last_error": reason}).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "invalidate credentials")
	}
	return nil
}

func (r *Repository) DeleteCredentials(ctx context.Context, channelID uuid.UUID) error {
	if err := r.db.WithContext(ctx).Where("channel_id = ?", channelID).Delete(&models.ChannelCredential{}).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete credentials")
	}
	return nil
}

func (r *Repository) DeleteMappings(ctx context.Context, channelID uuid.UUID) error {
	if err := r.db.WithContext(ctx).Where("channel_id = ?", channelID).Delete(&models.ChannelProduct{}).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete channel products")
	}
	return nil
}

// Mapping is one sync-enabled listing with the allocation pushed for it.
type Mapping struct {
	ProductID         uuid.UUID
	ExternalProductID string
	SKU               string
	Price             decimal.Decimal
	AllocatedQuantity int
	ReservedQuantity  int
	BufferQuantity    int
}

// Sellable is what the channel may list: the allocation minus open
// reservations and the safety buffer.
func (m Mapping) Sellable() int {
	n := m.AllocatedQuantity - m.ReservedQuantity - m.BufferQuantity
	if n < 0 {
		return 0
	}
	return n
}

// SyncableMappings returns the channel's sync-enabled listings of active
// products together with their allocation.
func (r *Repository) SyncableMappings(ctx context.Context, channelID uuid.UUID) ([]Mapping, error) {
	var rows []Mapping
	err := r.db.WithContext(ctx).
		Table("channel_products AS cp").
		Select(`cp.product_id AS product_id,
			cp.external_product_id AS external_product_id,
			p.sku AS sku,
			p.price AS price,
			COALESCE(a.allocated_quantity, 0) AS allocated_quantity,
			COALESCE(a.reserved_quantity, 0) AS reserved_quantity,
			COALESCE(a.buffer_quantity, 0) AS buffer_quantity`).
		Joins("JOIN products p ON p.id = cp.product_id").
		Joins("LEFT JOIN inventory_allocations a ON a.product_id = cp.product_id AND a.channel_id = cp.channel_id").
		Where("cp.channel_id = ? AND cp.sync_enabled = ? AND p.is_active = ?", channelID, true, true).
		Order("p.sku ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load channel products")
	}
	return rows, nil
}

// FindMapping resolves a channel listing to the local product.
func (r *Repository) FindMapping(ctx context.Context, channelID uuid.UUID, externalID string) (*models.ChannelProduct, error) {
	var row models.ChannelProduct
	err := r.db.WithContext(ctx).
		Where("channel_id = ? AND external_product_id = ?", channelID, externalID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load channel product")
	}
	return &row, nil
}

// TouchSynced stamps the pushed listings, their products and the channel.
func (r *Repository) TouchSynced(ctx context.Context, channelID uuid.UUID, productIDs []uuid.UUID, now time.Time) error {
	db := r.db.WithContext(ctx)
	if len(productIDs) > 0 {
		if err := db.Model(&models.ChannelProduct{}).
			Where("channel_id = ? AND product_id IN ?", channelID, productIDs).
			Update("last_synced_at", now).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "touch channel products")
		}
		if err := db.Model(&models.Product{}).
			Where("id IN ?", productIDs).
			Update("last_synced_at", now).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "touch products")
		}
	}
	if err := db.Model(&models.Channel{}).Where("id = ?", channelID).Update("last_synced_at", now).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "touch channel")
	}
	return nil
}

// SaveChannelLevels stores what the channel reports for its listings and
// returns the affected products. Unknown listings are skipped.
func (r *Repository) SaveChannelLevels(ctx context.Context, channelID uuid.UUID, levels []connectors.ChannelLevel, now time.Time) ([]uuid.UUID, error) {
	var touched []uuid.UUID
	for _, level := range levels {
		mapping, err := r.FindMapping(ctx, channelID, level.ExternalProductID)
		if err != nil {
			return touched, err
		}
		if mapping == nil {
			continue
		}
		fields := map[string]any{"channel_reported_at": now}
		if level.Stock != nil {
			fields["channel_stock"] = *level.Stock
		}
		if level.Price.Valid {
			fields["channel_price"] = level.Price
		}
		if err := r.db.WithContext(ctx).Model(mapping).Updates(fields).Error; err != nil {
			return touched, pkgerrors.FromDB(err, "save channel level")
		}
		touched = append(touched, mapping.ProductID)
	}
	return touched, nil
}

// InsertSyncStatus writes the per-channel row of one push attempt.
func (r *Repository) InsertSyncStatus(ctx context.Context, row *models.SyncStatus) error {
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return pkgerrors.FromDB(err, "insert sync status")
	}
	return nil
}

// LastSyncStatus returns the newest push attempt of a channel, or nil.
func (r *Repository) LastSyncStatus(ctx context.Context, channelID uuid.UUID) (*models.SyncStatus, error) {
	var row models.SyncStatus
	err := r.db.WithContext(ctx).Where("channel_id = ?", channelID).Order("synced_at DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sync status")
	}
	return &row, nil
}

// CreateWebhookLog writes the audit row before anything else happens.
func (r *Repository) CreateWebhookLog(ctx context.Context, row *models.WebhookLog) error {
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert webhook log")
	}
	return nil
}

// UpdateWebhookLog persists the mutable columns of a log row.
func (r *Repository) UpdateWebhookLog(ctx context.Context, row *models.WebhookLog) error {
	err := r.db.WithContext(ctx).
		Model(&models.WebhookLog{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{
			"channel_id":        row.ChannelID,
			"external_event_id": row.ExternalEventID,
			"topic":             row.Topic,
			"order_id":          row.OrderID,
			"signature_valid":   row.SignatureValid,
			"status":            row.Status,
			"error":             row.Error,
			"processed_at":      row.ProcessedAt,
		}).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update webhook log")
	}
	return nil
}

// EventProcessed reports whether an event id was already handled for a channel.
func (r *Repository) EventProcessed(ctx context.Context, channelID uuid.UUID, eventID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.WebhookLog{}).
		Where("channel_id = ? AND external_event_id = ? AND status = ?", channelID, eventID, enums.WebhookStatusProcessed).
		Count(&n).Error
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check webhook event")
	}
	return n > 0, nil
}

// PruneWebhookLogsBefore deletes webhook logs received before cutoff. Event
// dedupe only looks back as far as the retained logs.
func (r *Repository) PruneWebhookLogsBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	db := r.db
	if tx != nil {
		db = tx
	}
	res := db.WithContext(ctx).
		Where("received_at < ?", cutoff.UTC()).
		Delete(&models.WebhookLog{})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "prune webhook logs")
	}
	return res.RowsAffected, nil
}

// OrderSeen reports whether the channel already created orderID.
func (r *Repository) OrderSeen(ctx context.Context, channelID uuid.UUID, orderID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.WebhookLog{}).
		Where("channel_id = ? AND order_id = ? AND topic = ? AND status = ?",
			channelID, orderID, enums.WebhookEventOrderCreated, enums.WebhookStatusProcessed).
		Count(&n).Error
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check order")
	}
	return n > 0, nil
}
