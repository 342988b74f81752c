package conflicts

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelstock-backend/internal/allocation"
	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
	"github.com/angelmondragon/channelstock-backend/pkg/logger"
	"github.com/angelmondragon/channelstock-backend/pkg/metrics"
	"github.com/angelmondragon/channelstock-backend/pkg/outbox"
	"github.com/angelmondragon/channelstock-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/channelstock-backend/pkg/pagination"
)

const (
	defaultReliability = 0.8
	defaultAlpha       = 0.2
	internalWeight     = 1.0
	// values within this fraction of the resolved value count as agreeing
	agreementPct   = 0.01
	agreementFloor = 0.5
	// AutoActor marks resolutions applied by policy.
	AutoActor = "auto"
)

// Allocator is the slice of the allocation engine resolutions write through.
type Allocator interface {
	SetChannelAllocation(ctx context.Context, productID, channelID uuid.UUID, quantity int) (*models.Allocation, error)
	Allocate(ctx context.Context, productID uuid.UUID, strategy *enums.AllocationStrategy, opts allocation.AllocateOptions) (*allocation.Result, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// RecordInput describes a conflict raised outside the detection rules.
type RecordInput struct {
	StoreID    uuid.UUID
	ProductID  uuid.UUID
	ChannelID  *uuid.UUID
	Type       enums.ConflictType
	Priority   enums.ConflictPriority
	LocalValue float64
	Values     []models.ReportedValue
}

// AutoResolveSummary counts the outcome of one policy sweep.
type AutoResolveSummary struct {
	Attempted    int `json:"attempted"`
	Resolved     int `json:"resolved"`
	ManualReview int `json:"manual_review"`
}

type ServiceParams struct {
	DB                 txRunner
	Repo               *Repository
	Allocator          Allocator
	Outbox             outbox.Emitter
	Logger             *logger.Logger
	Metrics            *metrics.InventoryMetrics
	Thresholds         Thresholds
	DefaultReliability float64
	ReliabilityAlpha   float64
}

// Service detects and resolves divergences between local and channel state.
type Service struct {
	db                 txRunner
	repo               *Repository
	allocator          Allocator
	outbox             outbox.Emitter
	logg               *logger.Logger
	metrics            *metrics.InventoryMetrics
	thresholds         Thresholds
	defaultReliability float64
	alpha              float64
	now                func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("db runner is required")
	}
	if params.Repo == nil {
		return nil, errors.New("conflict repository is required")
	}
	if params.Allocator == nil {
		return nil, errors.New("allocator is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox emitter is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	thresholds := params.Thresholds
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds
	}
	reliability := params.DefaultReliability
	if reliability <= 0 {
		reliability = defaultReliability
	}
	alpha := params.ReliabilityAlpha
	if alpha <= 0 || alpha > 1 {
		alpha = defaultAlpha
	}
	return &Service{
		db:                 params.DB,
		repo:               params.Repo,
		allocator:          params.Allocator,
		outbox:             params.Outbox,
		logg:               params.Logger,
		metrics:            params.Metrics,
		thresholds:         thresholds,
		defaultReliability: reliability,
		alpha:              alpha,
		now:                func() time.Time { return time.Now().UTC() },
	}, nil
}

// DetectForProduct evaluates the rules for one product and stores the findings.
// An open conflict for the same product, channel and type is refreshed in place.
func (s *Service) DetectForProduct(ctx context.Context, productID uuid.UUID) ([]models.Conflict, error) {
	product, err := s.repo.FindProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	states, err := s.repo.ChannelStates(ctx, productID)
	if err != nil {
		return nil, err
	}
	findings := s.thresholds.Evaluate(*product, states, s.now())

	out := make([]models.Conflict, 0, len(findings))
	for _, finding := range findings {
		conflict, err := s.upsert(ctx, product.StoreID, product.ID, finding)
		if err != nil {
			return out, err
		}
		out = append(out, *conflict)
	}
	if len(out) > 0 {
		logCtx := s.logg.WithFields(s.logg.WithProductID(ctx, productID.String()), map[string]any{
			"conflicts": len(out),
		})
		s.logg.Info(logCtx, "conflicts detected")
	}
	return out, nil
}

// DetectForStore runs detection over productIDs, or over every product with
// channel reports when none are given. Per-product failures do not stop the sweep.
func (s *Service) DetectForStore(ctx context.Context, storeID uuid.UUID, productIDs []uuid.UUID) ([]models.Conflict, error) {
	if len(productIDs) == 0 {
		ids, err := s.repo.ReportedProductIDs(ctx, storeID)
		if err != nil {
			return nil, err
		}
		productIDs = ids
	}
	var (
		out  []models.Conflict
		errs error
	)
	for _, id := range productIDs {
		found, err := s.DetectForProduct(ctx, id)
		out = append(out, found...)
		if err != nil {
			s.logg.Error(s.logg.WithProductID(ctx, id.String()), "conflict detection failed", err)
			errs = multierr.Append(errs, err)
		}
	}
	return out, errs
}

// Record stores a conflict raised by the orchestrator, such as a duplicate
// sale or a sync timeout.
func (s *Service) Record(ctx context.Context, in RecordInput) (*models.Conflict, error) {
	if in.StoreID == uuid.Nil || in.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store and product are required")
	}
	if !in.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid conflict type")
	}
	priority := in.Priority
	if priority == "" {
		priority = enums.ConflictPriorityMedium
	}
	if !priority.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid conflict priority")
	}
	values := in.Values
	if values == nil {
		values = []models.ReportedValue{}
	}
	return s.upsert(ctx, in.StoreID, in.ProductID, Finding{
		ChannelID:  in.ChannelID,
		Type:       in.Type,
		Priority:   priority,
		LocalValue: in.LocalValue,
		Values:     values,
	})
}

func (s *Service) upsert(ctx context.Context, storeID, productID uuid.UUID, finding Finding) (*models.Conflict, error) {
	var (
		conflict *models.Conflict
		created  bool
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindPending(ctx, productID, finding.ChannelID, finding.Type)
		if err != nil {
			return err
		}
		if existing != nil {
			conflict = existing
			return repo.Refresh(ctx, existing, finding)
		}

		conflict = &models.Conflict{
			StoreID:          storeID,
			ProductID:        productID,
			ChannelID:        finding.ChannelID,
			Type:             finding.Type,
			Priority:         finding.Priority,
			Status:           enums.ConflictStatusPending,
			LocalValue:       finding.LocalValue,
			ReportedValues:   datatypes.NewJSONType(finding.Values),
			DeviationPercent: finding.DeviationPercent,
			DetectedAt:       s.now(),
		}
		if err := repo.Create(ctx, conflict); err != nil {
			return err
		}
		created = true
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			Once:          true,
			EventType:     enums.EventConflictDetected,
			AggregateType: enums.AggregateConflict,
			AggregateID:   conflict.ID,
			Actor:         &outbox.ActorRef{StoreID: storeID, Source: outbox.SourceWorker},
			Data: payloads.ConflictDetectedEvent{
				ConflictID:       conflict.ID,
				StoreID:          storeID,
				ProductID:        productID,
				ChannelID:        conflict.ChannelID,
				Type:             conflict.Type,
				Priority:         conflict.Priority,
				DeviationPercent: conflict.DeviationPercent,
			},
			OccurredAt: conflict.DetectedAt,
		})
	})
	if err != nil {
		return nil, err
	}
	if created {
		s.metrics.IncConflictDetected(string(conflict.Type), string(conflict.Priority))
	}
	return conflict, nil
}

// Get returns a conflict owned by storeID.
func (s *Service) Get(ctx context.Context, storeID, conflictID uuid.UUID) (*models.Conflict, error) {
	conflict, err := s.repo.Find(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if conflict.StoreID != storeID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "conflict not found")
	}
	return conflict, nil
}

// ListPage is one page of conflicts. NextCursor is empty on the last page.
type ListPage struct {
	Conflicts  []models.Conflict
	NextCursor string
}

// List returns the store's conflicts newest first, filter.Cursor continuing
// a previous page.
func (s *Service) List(ctx context.Context, storeID uuid.UUID, filter ListFilter) (*ListPage, error) {
	after, err := pagination.Decode(filter.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, next, err := s.repo.List(ctx, storeID, filter, after)
	if err != nil {
		return nil, err
	}
	page := &ListPage{Conflicts: rows}
	if next != nil {
		page.NextCursor = next.Encode()
	}
	return page, nil
}

// Resolve settles a pending conflict with strategy. manual_review only flags
// the conflict; a strategy that cannot produce or apply a value fails it.
func (s *Service) Resolve(ctx context.Context, conflictID uuid.UUID, strategy enums.ResolutionStrategy, actor string) (*models.Conflict, error) {
	if _, err := ResolverFor(strategy); err != nil {
		return nil, err
	}
	conflict, err := s.pending(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	ctx = s.conflictContext(ctx, conflict)

	if strategy == enums.ResolutionManualReview {
		return conflict, s.flag(ctx, conflict, nil)
	}
	if err := s.claim(ctx, conflict); err != nil {
		return nil, err
	}

	value, err := s.settle(ctx, conflict, strategy)
	if err != nil {
		s.metrics.IncConflictResolution(string(strategy), false)
		s.logg.Error(ctx, "conflict resolution failed", err)
		reason := err.Error()
		conflict.Status = enums.ConflictStatusFailed
		conflict.ResolutionStrategy = &strategy
		conflict.FailureReason = &reason
		conflict.ResolvedBy = &actor
		if termErr := s.terminate(ctx, conflict); termErr != nil {
			s.unclaim(ctx, conflict)
			return nil, termErr
		}
		return conflict, err
	}
	return conflict, s.resolved(ctx, conflict, strategy, value, actor)
}

// ResolveManually settles a conflict with an operator supplied value. A value
// that cannot be applied leaves the conflict pending.
func (s *Service) ResolveManually(ctx context.Context, conflictID uuid.UUID, value float64, actor string) (*models.Conflict, error) {
	if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "resolved value must be a non-negative number")
	}
	conflict, err := s.pending(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	ctx = s.conflictContext(ctx, conflict)
	if err := s.claim(ctx, conflict); err != nil {
		return nil, err
	}
	if err := s.apply(ctx, conflict, value); err != nil {
		s.unclaim(ctx, conflict)
		return nil, err
	}
	return conflict, s.resolved(ctx, conflict, enums.ResolutionManualValue, value, actor)
}

// AutoResolve applies the policy strategy for the conflict's type and
// priority. Failures bounce the conflict back to pending on manual_review.
func (s *Service) AutoResolve(ctx context.Context, conflict *models.Conflict) (*models.Conflict, error) {
	if conflict.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidStateTransition, "conflict is already terminal")
	}
	ctx = s.conflictContext(ctx, conflict)
	strategy := PolicyFor(conflict.Type, conflict.Priority)
	if strategy == enums.ResolutionManualReview {
		return conflict, s.flag(ctx, conflict, nil)
	}
	if err := s.claim(ctx, conflict); err != nil {
		return nil, err
	}

	value, err := s.settle(ctx, conflict, strategy)
	if err != nil {
		s.metrics.IncConflictResolution(string(strategy), false)
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "auto resolution failed; routing to manual review")
		reason := err.Error()
		return conflict, s.flag(ctx, conflict, &reason)
	}
	return conflict, s.resolved(ctx, conflict, strategy, value, AutoActor)
}

// AutoResolvePending runs the policy over every untried pending conflict of a store.
func (s *Service) AutoResolvePending(ctx context.Context, storeID uuid.UUID) (AutoResolveSummary, error) {
	var summary AutoResolveSummary
	pending, err := s.repo.ListUnattempted(ctx, storeID)
	if err != nil {
		return summary, err
	}
	var errs error
	for i := range pending {
		summary.Attempted++
		conflict, err := s.AutoResolve(ctx, &pending[i])
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if conflict.Status == enums.ConflictStatusResolved {
			summary.Resolved++
		} else {
			summary.ManualReview++
		}
	}
	logCtx := s.logg.WithFields(s.logg.WithStoreID(ctx, storeID.String()), map[string]any{
		"attempted":     summary.Attempted,
		"resolved":      summary.Resolved,
		"manual_review": summary.ManualReview,
	})
	s.logg.Info(logCtx, "auto resolution sweep finished")
	return summary, errs
}

func (s *Service) pending(ctx context.Context, conflictID uuid.UUID) (*models.Conflict, error) {
	conflict, err := s.repo.Find(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if conflict.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidStateTransition, "conflict is already terminal").
			WithDetails(map[string]any{"status": conflict.Status})
	}
	return conflict, nil
}

func (s *Service) conflictContext(ctx context.Context, c *models.Conflict) context.Context {
	ctx = s.logg.WithProductID(ctx, c.ProductID.String())
	if c.ChannelID != nil {
		ctx = s.logg.WithChannelID(ctx, c.ChannelID.String())
	}
	return s.logg.WithFields(ctx, map[string]any{
		"conflict_id":   c.ID.String(),
		"conflict_type": c.Type,
		"priority":      c.Priority,
	})
}

// claim leases the conflict to this call, so a concurrent resolver fails
// before it changes any local state.
func (s *Service) claim(ctx context.Context, c *models.Conflict) error {
	token, now := uuid.New(), s.now()
	if err := s.repo.Claim(ctx, c.ID, token, now); err != nil {
		return err
	}
	c.ClaimToken, c.ClaimedAt = &token, &now
	return nil
}

func (s *Service) unclaim(ctx context.Context, c *models.Conflict) {
	if c.ClaimToken == nil {
		return
	}
	if err := s.repo.Unclaim(ctx, c.ID, *c.ClaimToken); err != nil {
		s.logg.Error(ctx, "failed to release conflict claim", err)
	}
	c.ClaimToken, c.ClaimedAt = nil, nil
}

// settle computes the value for strategy and writes it through to local state.
func (s *Service) settle(ctx context.Context, c *models.Conflict, strategy enums.ResolutionStrategy) (float64, error) {
	resolver, err := ResolverFor(strategy)
	if err != nil {
		return 0, err
	}
	values := c.Values()
	weights, err := s.weights(ctx, values)
	if err != nil {
		return 0, err
	}
	value, err := resolver.resolve(resolveInput{
		Type:   c.Type,
		Values: values,
		Weight: weights,
	})
	if err != nil {
		return 0, err
	}
	if err := s.apply(ctx, c, value); err != nil {
		return 0, err
	}
	return value, nil
}

func (s *Service) weights(ctx context.Context, values []models.ReportedValue) (func(models.ReportedValue) float64, error) {
	ids := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		if v.ChannelID != nil {
			ids = append(ids, *v.ChannelID)
		}
	}
	scores, err := s.repo.Reliability(ctx, ids)
	if err != nil {
		return nil, err
	}
	return func(v models.ReportedValue) float64 {
		if v.ChannelType == enums.ChannelTypeInternal {
			return internalWeight
		}
		if v.ChannelID != nil {
			if score, ok := scores[*v.ChannelID]; ok {
				return score
			}
		}
		return s.defaultReliability
	}, nil
}

// apply writes a resolved value to local state.
func (s *Service) apply(ctx context.Context, c *models.Conflict, value float64) error {
	switch c.Type {
	case enums.ConflictTypeStockMismatch:
		if c.ChannelID == nil {
			return pkgerrors.New(pkgerrors.CodeConflictUnresolvable, "stock conflict has no channel")
		}
		qty := int(math.Floor(value))
		if qty < 0 {
			qty = 0
		}
		_, err := s.allocator.SetChannelAllocation(ctx, c.ProductID, *c.ChannelID, qty)
		return err
	case enums.ConflictTypeOversold:
		equal := enums.AllocationStrategyEqual
		_, err := s.allocator.Allocate(ctx, c.ProductID, &equal, allocation.AllocateOptions{Trigger: allocation.TriggerConflict})
		return err
	case enums.ConflictTypePriceMismatch:
		product, err := s.repo.FindProduct(ctx, c.ProductID)
		if err != nil {
			return err
		}
		price := decimal.NewFromFloat(value).Round(2)
		if price.Equal(product.Price) {
			return nil
		}
		return s.repo.UpdateProductPrice(ctx, c.ProductID, price)
	default:
		return nil
	}
}

func (s *Service) flag(ctx context.Context, c *models.Conflict, reason *string) error {
	if err := s.repo.FlagForReview(ctx, c.ID, c.ClaimToken, reason, s.now()); err != nil {
		s.unclaim(ctx, c)
		return err
	}
	review := enums.ResolutionManualReview
	c.ResolutionStrategy = &review
	c.FailureReason = reason
	c.ClaimToken, c.ClaimedAt = nil, nil
	s.logg.Info(ctx, "conflict routed to manual review")
	return nil
}

func (s *Service) resolved(ctx context.Context, c *models.Conflict, strategy enums.ResolutionStrategy, value float64, actor string) error {
	c.Status = enums.ConflictStatusResolved
	c.ResolutionStrategy = &strategy
	c.ResolvedValue = &value
	c.FailureReason = nil
	c.ResolvedBy = &actor
	if err := s.terminate(ctx, c); err != nil {
		s.unclaim(ctx, c)
		return err
	}
	s.metrics.IncConflictResolution(string(strategy), true)
	s.logg.Info(s.logg.WithField(ctx, "resolved_value", value), "conflict resolved")

	if err := s.updateReliability(ctx, c.Values(), value); err != nil {
		s.logg.Error(ctx, "update channel reliability", err)
	}
	return nil
}

func (s *Service) terminate(ctx context.Context, c *models.Conflict) error {
	now := s.now()
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Terminate(ctx, c, now); err != nil {
			return err
		}
		var resolvedBy string
		if c.ResolvedBy != nil {
			resolvedBy = *c.ResolvedBy
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			Once:          true,
			EventType:     enums.EventConflictResolved,
			AggregateType: enums.AggregateConflict,
			AggregateID:   c.ID,
			Actor:         &outbox.ActorRef{StoreID: c.StoreID, Source: outbox.SourceWorker},
			Data: payloads.ConflictResolvedEvent{
				ConflictID:    c.ID,
				StoreID:       c.StoreID,
				ProductID:     c.ProductID,
				Status:        c.Status,
				Strategy:      *c.ResolutionStrategy,
				ResolvedValue: c.ResolvedValue,
				ResolvedBy:    resolvedBy,
			},
			OccurredAt: now,
		})
	})
}

// updateReliability moves each channel's score toward 1 when its value agreed
// with the resolution and toward 0 when it did not.
func (s *Service) updateReliability(ctx context.Context, values []models.ReportedValue, resolved float64) error {
	ids := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		if v.ChannelID != nil {
			ids = append(ids, *v.ChannelID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	scores, err := s.repo.Reliability(ctx, ids)
	if err != nil {
		return err
	}
	tolerance := math.Max(agreementFloor, agreementPct*math.Abs(resolved))
	var errs error
	for _, v := range values {
		if v.ChannelID == nil {
			continue
		}
		prev, ok := scores[*v.ChannelID]
		if !ok {
			prev = s.defaultReliability
		}
		agree := 0.0
		if math.Abs(v.Value-resolved) <= tolerance {
			agree = 1
		}
		next := s.alpha*agree + (1-s.alpha)*prev
		errs = multierr.Append(errs, s.repo.SetReliability(ctx, *v.ChannelID, math.Round(next*10000)/10000))
	}
	return errs
}
