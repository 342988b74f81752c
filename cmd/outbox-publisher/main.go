package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/channelstock-backend/internal/bootstrap"
	"github.com/angelmondragon/channelstock-backend/pkg/instance"
	"github.com/angelmondragon/channelstock-backend/pkg/metrics"
	"github.com/angelmondragon/channelstock-backend/pkg/outbox"
	"github.com/angelmondragon/channelstock-backend/pkg/outbox/registry"
	"github.com/angelmondragon/channelstock-backend/pkg/pubsub"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := bootstrap.MustStart(ctx, "outbox-publisher")
	defer rt.Close()
	cfg, logg := rt.Config, rt.Logger

	events, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		rt.Fatal(ctx, "failed to build event registry", err)
	}
	topics, err := pubsub.NewClient(ctx, cfg.GCP, events.Topics(), logg)
	if err != nil {
		rt.Fatal(ctx, "failed to bootstrap pubsub", err)
	}
	rt.OnClose("pubsub", topics)

	conn := rt.DB.DB()
	dispatcher, err := NewDispatcher(DispatcherParams{
		Outbox:     cfg.Outbox,
		Logger:     logg,
		DB:         rt.DB,
		Topics:     topics,
		Repository: outbox.NewRepository(conn),
		DLQ:        outbox.NewDLQRepository(conn),
		Registry:   events,
		Metrics:    metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		rt.Fatal(ctx, "failed to create outbox dispatcher", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"topics":      events.Topics(),
		"worker":      instance.ID(),
	})
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, prometheus.DefaultGatherer, logg); err != nil {
				logg.Error(ctx, "metrics listener stopped", err)
			}
		}()
	}
	logg.Info(ctx, "starting outbox publisher")

	if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		rt.Fatal(ctx, "outbox publisher stopped unexpectedly", err)
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
}
