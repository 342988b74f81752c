package conflicts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
	"github.com/angelmondragon/channelstock-backend/pkg/pagination"
)

// ListFilter narrows List results. Zero values are ignored.
type ListFilter struct {
	Status    enums.ConflictStatus
	Type      enums.ConflictType
	Priority  enums.ConflictPriority
	ProductID *uuid.UUID
	Limit     int
	Cursor    string
}

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

func (r *Repository) FindProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).Where("id = ?", productID).First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	return &product, nil
}

type channelStateRow struct {
	ChannelID         uuid.UUID
	ChannelType       enums.ChannelType
	ChannelStock      *int
	ChannelPrice      decimal.NullDecimal
	ChannelReportedAt *time.Time
	AllocatedQuantity *int
	AllocatedAt       *time.Time
}

// ChannelStates returns what every active channel last reported for a product
// next to its local allocation.
func (r *Repository) ChannelStates(ctx context.Context, productID uuid.UUID) ([]ChannelState, error) {
	var rows []channelStateRow
	err := r.db.WithContext(ctx).
		Table("channel_products AS cp").
		Select(`cp.channel_id AS channel_id,
			c.type AS channel_type,
			cp.channel_stock AS channel_stock,
			cp.channel_price AS channel_price,
			cp.channel_reported_at AS channel_reported_at,
			a.allocated_quantity AS allocated_quantity,
			a.updated_at AS allocated_at`).
		Joins("JOIN channels AS c ON c.id = cp.channel_id").
		Joins("LEFT JOIN inventory_allocations AS a ON a.product_id = cp.product_id AND a.channel_id = cp.channel_id").
		Where("cp.product_id = ? AND c.is_active = ? AND cp.channel_reported_at IS NOT NULL", productID, true).
		Order("c.created_at ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load channel states")
	}
	states := make([]ChannelState, len(rows))
	for i, row := range rows {
		state := ChannelState{
			ChannelID:   row.ChannelID,
			ChannelType: row.ChannelType,
			Stock:       row.ChannelStock,
			Price:       row.ChannelPrice,
		}
		if row.ChannelReportedAt != nil {
			state.ReportedAt = row.ChannelReportedAt.UTC()
		}
		if row.AllocatedQuantity != nil {
			state.Allocated = *row.AllocatedQuantity
		}
		if row.AllocatedAt != nil {
			state.AllocatedAt = row.AllocatedAt.UTC()
		}
		states[i] = state
	}
	return states, nil
}

// ReportedProductIDs lists active products of a store with at least one channel report.
func (r *Repository) ReportedProductIDs(ctx context.Context, storeID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("store_id = ? AND is_active = ?", storeID, true).
		Where("EXISTS (SELECT 1 FROM channel_products cp WHERE cp.product_id = products.id AND cp.channel_reported_at IS NOT NULL)").
		Order("created_at ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list reported products")
	}
	return ids, nil
}

// FindPending returns the open conflict for (product, channel, type), if any.
func (r *Repository) FindPending(ctx context.Context, productID uuid.UUID, channelID *uuid.UUID, conflictType enums.ConflictType) (*models.Conflict, error) {
	query := r.db.WithContext(ctx).
		Where("product_id = ? AND type = ? AND status = ?", productID, conflictType, enums.ConflictStatusPending)
	if channelID == nil {
		query = query.Where("channel_id IS NULL")
	} else {
		query = query.Where("channel_id = ?", *channelID)
	}
	var row models.Conflict
	err := query.Order("detected_at DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending conflict")
	}
	return &row, nil
}

func (r *Repository) Create(ctx context.Context, conflict *models.Conflict) error {
	if err := r.db.WithContext(ctx).Create(conflict).Error; err != nil {
		return pkgerrors.FromDB(err, "create conflict")
	}
	return nil
}

// Refresh overwrites the observed values of a still pending conflict.
func (r *Repository) Refresh(ctx context.Context, conflict *models.Conflict, finding Finding) error {
	updates := map[string]any{
		"priority":          finding.Priority,
		"local_value":       finding.LocalValue,
		"reported_values":   datatypes.NewJSONType(finding.Values),
		"deviation_percent": finding.DeviationPercent,
	}
	res := r.db.WithContext(ctx).
		Model(&models.Conflict{}).
		Where("id = ? AND status = ?", conflict.ID, enums.ConflictStatusPending).
		Updates(updates)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "refresh conflict")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidStateTransition, "conflict is no longer pending")
	}
	conflict.Priority = finding.Priority
	conflict.LocalValue = finding.LocalValue
	conflict.ReportedValues = datatypes.NewJSONType(finding.Values)
	conflict.DeviationPercent = finding.DeviationPercent
	return nil
}

func (r *Repository) Find(ctx context.Context, id uuid.UUID) (*models.Conflict, error) {
	var row models.Conflict
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "conflict not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load conflict")
	}
	return &row, nil
}

// ListUnattempted returns pending conflicts no strategy has been tried on.
func (r *Repository) ListUnattempted(ctx context.Context, storeID uuid.UUID) ([]models.Conflict, error) {
	var rows []models.Conflict
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND status = ? AND resolution_strategy IS NULL", storeID, enums.ConflictStatusPending).
		Order("detected_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending conflicts")
	}
	return rows, nil
}

// List pages newest first. The returned cursor points at the last row of the
// page and is nil on the final page.
func (r *Repository) List(ctx context.Context, storeID uuid.UUID, filter ListFilter, after *pagination.Cursor) ([]models.Conflict, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Where("store_id = ?", storeID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Priority != "" {
		query = query.Where("priority = ?", filter.Priority)
	}
	if filter.ProductID != nil {
		query = query.Where("product_id = ?", *filter.ProductID)
	}
	var rows []models.Conflict
	if err := pagination.Newest(query, "detected_at", after, filter.Limit).Find(&rows).Error; err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list conflicts")
	}
	rows, next := pagination.Trim(rows, filter.Limit, func(c models.Conflict) pagination.Cursor {
		return pagination.Cursor{At: c.DetectedAt, ID: c.ID}
	})
	return rows, next, nil
}

// claimLease bounds how long a resolver may hold a conflict before another
// one can take it over.
const claimLease = 2 * time.Minute

// heldBy limits q to conflicts the holder of token may change. Without a
// token only unclaimed conflicts, or ones whose lease ran out, qualify.
func heldBy(q *gorm.DB, token *uuid.UUID, now time.Time) *gorm.DB {
	if token != nil {
		return q.Where("claim_token = ?", *token)
	}
	return q.Where("claim_token IS NULL OR claimed_at < ?", now.Add(-claimLease))
}

// Claim leases a pending conflict to one resolver. It fails with an invalid
// transition when the conflict is terminal or another resolver holds it.
func (r *Repository) Claim(ctx context.Context, id, token uuid.UUID, now time.Time) error {
	q := r.db.WithContext(ctx).
		Model(&models.Conflict{}).
		Where("id = ? AND status = ?", id, enums.ConflictStatusPending)
	res := heldBy(q, nil, now).Updates(map[string]any{
		"claim_token": token,
		"claimed_at":  now,
	})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "claim conflict")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidStateTransition, "conflict is terminal or being resolved")
	}
	return nil
}

// Unclaim drops a lease and leaves the conflict pending.
func (r *Repository) Unclaim(ctx context.Context, id, token uuid.UUID) error {
	err := r.db.WithContext(ctx).
		Model(&models.Conflict{}).
		Where("id = ? AND claim_token = ?", id, token).
		Updates(map[string]any{"claim_token": nil, "claimed_at": nil}).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release conflict claim")
	}
	return nil
}

// Terminate moves a pending conflict to resolved or failed. Rows already
// terminal, or held by another resolver, are reported as an invalid
// transition.
func (r *Repository) Terminate(ctx context.Context, conflict *models.Conflict, now time.Time) error {
	updates := map[string]any{
		"status":              conflict.Status,
		"resolution_strategy": conflict.ResolutionStrategy,
		"resolved_value":      conflict.ResolvedValue,
		"failure_reason":      conflict.FailureReason,
		"resolved_by":         conflict.ResolvedBy,
		"resolved_at":         now,
		"claim_token":         nil,
		"claimed_at":          nil,
	}
	q := r.db.WithContext(ctx).
		Model(&models.Conflict{}).
		Where("id = ? AND status = ?", conflict.ID, enums.ConflictStatusPending)
	res := heldBy(q, conflict.ClaimToken, now).Updates(updates)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update conflict")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidStateTransition, "conflict is already terminal")
	}
	conflict.ResolvedAt = &now
	conflict.ClaimToken = nil
	conflict.ClaimedAt = nil
	return nil
}

// FlagForReview parks a pending conflict on manual_review and drops the
// caller's lease, if any.
func (r *Repository) FlagForReview(ctx context.Context, id uuid.UUID, token *uuid.UUID, reason *string, now time.Time) error {
	q := r.db.WithContext(ctx).
		Model(&models.Conflict{}).
		Where("id = ? AND status = ?", id, enums.ConflictStatusPending)
	res := heldBy(q, token, now).Updates(map[string]any{
		"resolution_strategy": enums.ResolutionManualReview,
		"failure_reason":      reason,
		"claim_token":         nil,
		"claimed_at":          nil,
	})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "flag conflict for review")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidStateTransition, "conflict is terminal or being resolved")
	}
	return nil
}

// Reliability returns the stored score per channel; channels without history are absent.
func (r *Repository) Reliability(ctx context.Context, channelIDs []uuid.UUID) (map[uuid.UUID]float64, error) {
	out := map[uuid.UUID]float64{}
	if len(channelIDs) == 0 {
		return out, nil
	}
	var channels []models.Channel
	err := r.db.WithContext(ctx).
		Select("id", "reliability_score").
		Where("id IN ?", channelIDs).
		Find(&channels).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load channel reliability")
	}
	for _, ch := range channels {
		if ch.ReliabilityScore != nil {
			out[ch.ID] = *ch.ReliabilityScore
		}
	}
	return out, nil
}

func (r *Repository) SetReliability(ctx context.Context, channelID uuid.UUID, score float64) error {
	err := r.db.WithContext(ctx).
		Model(&models.Channel{}).
		Where("id = ?", channelID).
		Update("reliability_score", score).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update channel reliability")
	}
	return nil
}

func (r *Repository) UpdateProductPrice(ctx context.Context, productID uuid.UUID, price decimal.Decimal) error {
	res := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", productID).
		Update("price", price)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update product price")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return nil
}
