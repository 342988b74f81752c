// Package orchestrator coordinates channel lifecycle, batch synchronization
// and inbound webhooks on top of the allocation, conflict and tracking
// engines.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelstock-backend/internal/allocation"
	"github.com/angelmondragon/channelstock-backend/internal/conflicts"
	"github.com/angelmondragon/channelstock-backend/internal/connectors"
	"github.com/angelmondragon/channelstock-backend/internal/synctracker"
	"github.com/angelmondragon/channelstock-backend/pkg/config"
	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
	"github.com/angelmondragon/channelstock-backend/pkg/idempotency"
	"github.com/angelmondragon/channelstock-backend/pkg/logger"
	"github.com/angelmondragon/channelstock-backend/pkg/metrics"
	"github.com/angelmondragon/channelstock-backend/pkg/outbox"
	"github.com/angelmondragon/channelstock-backend/pkg/vault"
)

const (
	defaultConnectorCache = 128
	defaultChannelTimeout = 2 * time.Minute
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Allocator is the slice of the allocation engine used by webhooks.
type Allocator interface {
	Reserve(ctx context.Context, m allocation.StockMovement) error
	Release(ctx context.Context, m allocation.StockMovement) error
	Confirm(ctx context.Context, m allocation.StockMovement) error
}

// ConflictEngine is the slice of the conflict engine used after syncs and
// by webhooks.
type ConflictEngine interface {
	DetectForProduct(ctx context.Context, productID uuid.UUID) ([]models.Conflict, error)
	DetectForStore(ctx context.Context, storeID uuid.UUID, productIDs []uuid.UUID) ([]models.Conflict, error)
	Record(ctx context.Context, in conflicts.RecordInput) (*models.Conflict, error)
	AutoResolvePending(ctx context.Context, storeID uuid.UUID) (conflicts.AutoResolveSummary, error)
}

// Options carries the sync tunables.
type Options struct {
	Concurrency    int
	ChannelTimeout time.Duration
	AutoResolve    bool
	ConnectorCache int
}

// OptionsFromConfig maps the sync section onto orchestrator options.
func OptionsFromConfig(cfg config.SyncConfig) Options {
	return Options{
		Concurrency:    cfg.Concurrency,
		ChannelTimeout: cfg.ChannelTimeout,
		AutoResolve:    cfg.AutoResolve,
		ConnectorCache: cfg.ConnectorCache,
	}
}

// ServiceParams wires the orchestrator.
type ServiceParams struct {
	DB          txRunner
	Repo        *Repository
	Allocations *allocation.Repository
	Allocator   Allocator
	Conflicts   ConflictEngine
	Tracker     *synctracker.Tracker
	Registry    *connectors.Registry
	Vault       *vault.Vault
	Outbox      outbox.Emitter
	Idempotency *idempotency.Guard
	Logger      *logger.Logger
	Metrics     *metrics.InventoryMetrics
	Options     Options
}

// Service is the top-level coordinator.
type Service struct {
	db          txRunner
	repo        *Repository
	allocations *allocation.Repository
	allocator   Allocator
	conflicts   ConflictEngine
	tracker     *synctracker.Tracker
	registry    *connectors.Registry
	vault       *vault.Vault
	outbox      outbox.Emitter
	idem        *idempotency.Guard
	logg        *logger.Logger
	metrics     *metrics.InventoryMetrics
	opts        Options
	connectors  *lru.Cache[uuid.UUID, connectors.Connector]
	now         func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.DB == nil:
		return nil, errors.New("db runner is required")
	case params.Repo == nil:
		return nil, errors.New("orchestrator repository is required")
	case params.Allocations == nil || params.Allocator == nil:
		return nil, errors.New("allocation engine is required")
	case params.Conflicts == nil:
		return nil, errors.New("conflict engine is required")
	case params.Tracker == nil:
		return nil, errors.New("sync tracker is required")
	case params.Registry == nil:
		return nil, errors.New("connector registry is required")
	case params.Vault == nil:
		return nil, errors.New("credential vault is required")
	case params.Outbox == nil:
		return nil, errors.New("outbox emitter is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	}

	opts := params.Options
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.ChannelTimeout <= 0 {
		opts.ChannelTimeout = defaultChannelTimeout
	}
	if opts.ConnectorCache <= 0 {
		opts.ConnectorCache = defaultConnectorCache
	}
	cache, err := lru.New[uuid.UUID, connectors.Connector](opts.ConnectorCache)
	if err != nil {
		return nil, err
	}

	return &Service{
		db:          params.DB,
		repo:        params.Repo,
		allocations: params.Allocations,
		allocator:   params.Allocator,
		conflicts:   params.Conflicts,
		tracker:     params.Tracker,
		registry:    params.Registry,
		vault:       params.Vault,
		outbox:      params.Outbox,
		idem:        params.Idempotency,
		logg:        params.Logger,
		metrics:     params.Metrics,
		opts:        opts,
		connectors:  cache,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// ListChannels returns the store's channels for the API.
func (s *Service) ListChannels(ctx context.Context, storeID uuid.UUID) ([]models.Channel, error) {
	return s.repo.ListChannels(ctx, storeID)
}

// ListStoreIDs returns the stores with active channels; the scheduler walks it.
func (s *Service) ListStoreIDs(ctx context.Context) ([]uuid.UUID, error) {
	return s.repo.ListStoreIDs(ctx)
}

// Definitions lists the connectable channel types.
func (s *Service) Definitions() []connectors.Definition {
	return s.registry.Definitions()
}

// connectorFor returns the cached connector of a channel, decrypting its
// credentials on a miss. Decrypt failures invalidate the stored credentials.
func (s *Service) connectorFor(ctx context.Context, channel models.Channel) (connectors.Connector, error) {
	if conn, ok := s.connectors.Get(channel.ID); ok {
		return conn, nil
	}

	cred, err := s.repo.LoadCredentials(ctx, channel.ID)
	if err != nil {
		return nil, err
	}
	if !cred.IsValid {
		return nil, pkgerrors.New(pkgerrors.CodeCredential, "channel credentials are invalid; reconnect the channel")
	}

	var creds connectors.Credentials
	sealed := vault.Sealed{Ciphertext: cred.Ciphertext, Nonce: cred.Nonce, KeyVersion: cred.KeyVersion}
	if err := s.vault.OpenJSON(sealed, channel.ID[:], &creds); err != nil {
		s.invalidateCredentials(ctx, channel.ID, err)
		return nil, err
	}

	conn, err := s.registry.Build(channel.Type, creds)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeValidation) {
			err = pkgerrors.Wrap(pkgerrors.CodeCredential, err, "stored credentials are incomplete")
			s.invalidateCredentials(ctx, channel.ID, err)
		}
		return nil, err
	}
	s.connectors.Add(channel.ID, conn)
	return conn, nil
}

func (s *Service) invalidateCredentials(ctx context.Context, channelID uuid.UUID, cause error) {
	s.connectors.Remove(channelID)
	if err := s.repo.MarkCredentialsInvalid(ctx, channelID, cause.Error()); err != nil {
		s.logg.Error(ctx, "failed to invalidate channel credentials", err)
		return
	}
	s.logg.Warn(ctx, "channel credentials invalidated")
}
