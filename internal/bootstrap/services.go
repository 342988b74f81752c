// Package bootstrap builds the inventory service graph shared by the api,
// the sync worker and stockctl.
package bootstrap

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/channelstock-backend/internal/allocation"
	"github.com/angelmondragon/channelstock-backend/internal/conflicts"
	"github.com/angelmondragon/channelstock-backend/internal/connectors"
	"github.com/angelmondragon/channelstock-backend/internal/forecast"
	"github.com/angelmondragon/channelstock-backend/internal/orchestrator"
	"github.com/angelmondragon/channelstock-backend/internal/synctracker"
	"github.com/angelmondragon/channelstock-backend/pkg/config"
	"github.com/angelmondragon/channelstock-backend/pkg/db"
	"github.com/angelmondragon/channelstock-backend/pkg/idempotency"
	"github.com/angelmondragon/channelstock-backend/pkg/logger"
	"github.com/angelmondragon/channelstock-backend/pkg/metrics"
	"github.com/angelmondragon/channelstock-backend/pkg/outbox"
	"github.com/angelmondragon/channelstock-backend/pkg/redis"
	"github.com/angelmondragon/channelstock-backend/pkg/vault"
)

const allocationLockScope = "allocation"

// Services is the wired inventory stack.
type Services struct {
	Outbox       *outbox.Service
	OutboxRepo   *outbox.Repository
	Metrics      *metrics.InventoryMetrics
	Allocator    *allocation.Service
	Forecasts    *forecast.Provider
	Conflicts    *conflicts.Service
	Tracker      *synctracker.Tracker
	Vault        *vault.Vault
	Registry     *connectors.Registry
	Orchestrator *orchestrator.Service
}

// Params are the shared clients every binary already opened. Registerer
// may be nil to skip metrics.
type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Redis      *redis.Client
	Registerer prometheus.Registerer
}

// NewServices wires the allocation engine, conflict engine, sync tracker
// and orchestrator on top of the shared clients.
func NewServices(params Params) (*Services, error) {
	cfg, logg := params.Config, params.Logger
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("database client required")
	}
	if params.Redis == nil {
		return nil, fmt.Errorf("redis client required")
	}
	conn := params.DB.DB()

	outboxRepo := outbox.NewRepository(conn)
	emitter := outbox.NewService(outboxRepo, logg)

	var inventoryMetrics *metrics.InventoryMetrics
	if params.Registerer != nil {
		inventoryMetrics = metrics.NewInventoryMetrics(params.Registerer)
	}

	locker, err := newLocker(cfg.Allocation, params.Redis)
	if err != nil {
		return nil, err
	}

	forecastOpts := forecast.OptionsFromConfig(cfg.Forecast)
	forecastOpts.Repo = forecast.NewRepository(conn)
	forecastOpts.Client = forecast.NewClient(cfg.Forecast.ServiceURL, cfg.Forecast.Timeout)
	forecastOpts.Cache = params.Redis
	forecastOpts.KeyFunc = params.Redis.ForecastKey
	forecastOpts.Logger = logg
	provider, err := forecast.NewProvider(forecastOpts)
	if err != nil {
		return nil, fmt.Errorf("forecast provider: %w", err)
	}

	allocRepo := allocation.NewRepository(conn)
	allocator, err := allocation.NewService(allocation.ServiceParams{
		DB:              params.DB,
		Repo:            allocRepo,
		Locker:          locker,
		Demand:          provider,
		Outbox:          emitter,
		Logger:          logg,
		Metrics:         inventoryMetrics,
		SalesWindowDays: cfg.Allocation.SalesWindowDays,
	})
	if err != nil {
		return nil, fmt.Errorf("allocation service: %w", err)
	}

	engine, err := conflicts.NewService(conflicts.ServiceParams{
		DB:                 params.DB,
		Repo:               conflicts.NewRepository(conn),
		Allocator:          allocator,
		Outbox:             emitter,
		Logger:             logg,
		Metrics:            inventoryMetrics,
		Thresholds:         conflicts.ThresholdsFromConfig(cfg.Conflicts),
		DefaultReliability: cfg.Conflicts.DefaultReliability,
		ReliabilityAlpha:   cfg.Conflicts.ReliabilityAlpha,
	})
	if err != nil {
		return nil, fmt.Errorf("conflict service: %w", err)
	}

	trackerOpts := synctracker.OptionsFromConfig(cfg.Sync)
	trackerOpts.Repo = synctracker.NewRepository(conn)
	trackerOpts.Shared = params.Redis
	trackerOpts.KeyFunc = params.Redis.SyncStatusKey
	trackerOpts.Logger = logg
	tracker, err := synctracker.New(trackerOpts)
	if err != nil {
		return nil, fmt.Errorf("sync tracker: %w", err)
	}

	v, err := vault.New(cfg.Vault)
	if err != nil {
		tracker.Close()
		return nil, fmt.Errorf("credential vault: %w", err)
	}
	idem, err := idempotency.NewGuard(params.Redis, cfg.Webhooks.IdempotencyTTL)
	if err != nil {
		tracker.Close()
		return nil, fmt.Errorf("webhook idempotency: %w", err)
	}
	registry := connectors.NewRegistry(connectors.ClientOptionsFromConfig(cfg.Sync))

	orch, err := orchestrator.NewService(orchestrator.ServiceParams{
		DB:          params.DB,
		Repo:        orchestrator.NewRepository(conn),
		Allocations: allocRepo,
		Allocator:   allocator,
		Conflicts:   engine,
		Tracker:     tracker,
		Registry:    registry,
		Vault:       v,
		Outbox:      emitter,
		Idempotency: idem,
		Logger:      logg,
		Metrics:     inventoryMetrics,
		Options:     orchestrator.OptionsFromConfig(cfg.Sync),
	})
	if err != nil {
		tracker.Close()
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	return &Services{
		Outbox:       emitter,
		OutboxRepo:   outboxRepo,
		Metrics:      inventoryMetrics,
		Allocator:    allocator,
		Forecasts:    provider,
		Conflicts:    engine,
		Tracker:      tracker,
		Vault:        v,
		Registry:     registry,
		Orchestrator: orch,
	}, nil
}

// Close stops background work owned by the stack.
func (s *Services) Close() {
	if s == nil || s.Tracker == nil {
		return
	}
	s.Tracker.Close()
}

func newLocker(cfg config.AllocationConfig, client *redis.Client) (allocation.Locker, error) {
	if !cfg.DistributedLock {
		return allocation.NewLocalLocker(), nil
	}
	keyFn := func(productID string) string { return client.LockKey(allocationLockScope, productID) }
	locker, err := allocation.NewRedisLocker(client.Raw(), keyFn, cfg.LockTTL, cfg.LockWait)
	if err != nil {
		return nil, fmt.Errorf("allocation locker: %w", err)
	}
	return locker, nil
}
