package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/channelstock-backend/api/routes"
	"github.com/angelmondragon/channelstock-backend/internal/bootstrap"
	"github.com/angelmondragon/channelstock-backend/pkg/auth"
	"github.com/angelmondragon/channelstock-backend/pkg/instance"
	"github.com/angelmondragon/channelstock-backend/pkg/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := bootstrap.MustStart(ctx, "api")
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
	issuer, err := auth.NewIssuer(cfg.JWT)
	if err != nil {
		rt.Fatal(ctx, "failed to configure token issuer", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.ID(),
	})

	// A dedicated metrics address keeps /metrics off the public router.
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if cfg.Metrics.Addr != "" {
		gatherer = nil
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, prometheus.DefaultGatherer, logg); err != nil {
				logg.Error(ctx, "metrics listener stopped", err)
			}
		}()
	}

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, rt.DB, redisClient, routes.Services{
			Inventory: services.Allocator,
			Channels:  services.Orchestrator,
			Syncs:     services.Orchestrator,
			Tracker:   services.Tracker,
			Conflicts: services.Conflicts,
			Webhooks:  services.Orchestrator,
			Tokens:    issuer,
			Metrics:   gatherer,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.Fatal(ctx, "api server stopped unexpectedly", err)
		}
	case <-ctx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.App.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server did not drain in time", err)
		}
	}
}
