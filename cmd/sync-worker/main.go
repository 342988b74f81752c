package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelstock-backend/internal/bootstrap"
	"github.com/angelmondragon/channelstock-backend/internal/cron"
	"github.com/angelmondragon/channelstock-backend/internal/orchestrator"
	"github.com/angelmondragon/channelstock-backend/internal/synctracker"
	"github.com/angelmondragon/channelstock-backend/pkg/config"
	"github.com/angelmondragon/channelstock-backend/pkg/db"
	"github.com/angelmondragon/channelstock-backend/pkg/instance"
	"github.com/angelmondragon/channelstock-backend/pkg/logger"
	"github.com/angelmondragon/channelstock-backend/pkg/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := bootstrap.MustStart(ctx, "sync-worker")
	defer rt.Close()
	cfg, logg := rt.Config, rt.Logger

	redisClient, err := rt.OpenRedis(ctx)
	if err != nil {
		rt.Fatal(ctx, "failed to bootstrap redis", err)
	}
	services, err := rt.Wire(redisClient, prometheus.DefaultRegisterer)
	if err != nil {
		rt.Fatal(ctx, "failed to wire inventory services", err)
	}

	registry, err := buildRegistry(cfg, logg, rt.DB, services)
	if err != nil {
		rt.Fatal(ctx, "failed to register sync jobs", err)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("sync-worker", lockEnv(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		rt.Fatal(ctx, "failed to create sync worker lock", err)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:      logg,
		Registry:    registry,
		Lock:        lock,
		Metrics:     metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:    cfg.Cron.Interval,
		LockRefresh: cfg.Cron.LockTTL / 3,
	})
	if err != nil {
		rt.Fatal(ctx, "failed to create sync worker", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Cron.Interval.String(),
		"worker":      instance.ID(),
	})
	logg.Info(ctx, "starting sync worker")

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, prometheus.DefaultGatherer, logg); err != nil {
				logg.Error(ctx, "metrics listener stopped", err)
			}
		}()
	}

	if cfg.Cron.RunOnce {
		report, err := service.RunOnce(ctx)
		if err != nil {
			rt.Fatal(ctx, "sweep failed", err)
		}
		logg.Info(logg.WithFields(ctx, map[string]any{
			"lock_held": report.LockHeld,
			"ran":       report.Ran,
			"failed":    report.Failed,
			"skipped":   report.Skipped,
		}), "single sweep complete")
		if len(report.Failed) > 0 {
			rt.Fatal(ctx, "sweep finished with failed jobs", fmt.Errorf("%d jobs failed", len(report.Failed)))
		}
		return
	}

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		rt.Fatal(ctx, "sync worker stopped unexpectedly", err)
	}

	logg.Info(ctx, "sync worker shutting down gracefully")
}

// buildRegistry orders the sweep so overselling is corrected before
// quantities are pushed and conflicts are worked after the push. A failed
// oversell scan skips the rest of the cycle.
func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, services *bootstrap.Services) (*cron.Registry, error) {
	stores := services.Orchestrator

	oversell, err := cron.NewOversellGuardJob(cron.OversellGuardJobParams{
		Logger:  logg,
		Stores:  stores,
		Scanner: services.Allocator,
	})
	if err != nil {
		return nil, err
	}
	syncJob, err := cron.NewInventorySyncJob(cron.InventorySyncJobParams{
		Logger:  logg,
		Stores:  stores,
		Syncer:  services.Orchestrator,
		Options: orchestrator.SyncOptions{Concurrency: cfg.Sync.Concurrency},
	})
	if err != nil {
		return nil, err
	}
	resolve, err := cron.NewConflictAutoResolveJob(cron.ConflictAutoResolveJobParams{
		Logger:   logg,
		Stores:   stores,
		Resolver: services.Conflicts,
	})
	if err != nil {
		return nil, err
	}
	syncRepo := synctracker.NewRepository(dbClient.DB())
	channelRepo := orchestrator.NewRepository(dbClient.DB())
	retention, err := cron.NewHistoryRetentionJob(cron.HistoryRetentionJobParams{
		Logger:    logg,
		DB:        dbClient,
		Retention: cfg.Outbox.RetentionDays,
		Pruners: []cron.Pruner{
			{Name: "outbox_events", Prune: func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
				return services.OutboxRepo.DeletePublishedBefore(ctx, tx, cutoff, cfg.Outbox.MaxAttempts)
			}},
			{Name: "sync_operations", Prune: syncRepo.PruneFinishedBefore},
			{Name: "webhook_logs", Prune: channelRepo.PruneWebhookLogsBefore},
		},
	})
	if err != nil {
		return nil, err
	}
	registry := cron.NewRegistry()
	if err := registry.RegisterGate(oversell); err != nil {
		return nil, err
	}
	for _, job := range []cron.Job{syncJob, resolve, retention} {
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func lockEnv(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
