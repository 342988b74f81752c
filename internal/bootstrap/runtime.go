package bootstrap

import (
	"context"
	"io"
	"os"
	"slices"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/channelstock-backend/pkg/config"
	"github.com/angelmondragon/channelstock-backend/pkg/db"
	"github.com/angelmondragon/channelstock-backend/pkg/logger"
	"github.com/angelmondragon/channelstock-backend/pkg/migrate"
	"github.com/angelmondragon/channelstock-backend/pkg/redis"
)

// Runtime is the process scaffolding a long-running binary starts from.
// Resources opened through it are closed by Close in reverse order.
type Runtime struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client

	closers []namedCloser
}

type namedCloser struct {
	name string
	c    io.Closer
}

// Start reads .env and the environment, builds the service logger, opens the
// database and applies dev migrations.
func Start(ctx context.Context, service string) (*Runtime, error) {
	boot := logger.New(logger.Options{ServiceName: service})
	if err := godotenv.Load(); err != nil {
		boot.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		boot.Error(ctx, "failed to load config", err)
		return nil, err
	}
	cfg.Service.Kind = service

	rt := &Runtime{
		Config: cfg,
		Logger: logger.New(logger.Options{
			ServiceName: service,
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			WarnStack:   cfg.App.LogWarnStack,
			Format:      cfg.App.LogFormat,
		}),
	}

	rt.DB, err = db.New(ctx, cfg.DB, rt.Logger)
	if err != nil {
		rt.Logger.Error(ctx, "failed to bootstrap database", err)
		return nil, err
	}
	rt.OnClose("database", rt.DB)

	if err := migrate.MaybeRunDev(ctx, cfg, rt.Logger, rt.DB); err != nil {
		rt.Logger.Error(ctx, "failed to run dev migrations", err)
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

// MustStart is Start for main functions: any failure exits the process.
func MustStart(ctx context.Context, service string) *Runtime {
	rt, err := Start(ctx, service)
	if err != nil {
		os.Exit(1)
	}
	return rt
}

// OpenRedis connects to redis and registers the client for Close.
func (rt *Runtime) OpenRedis(ctx context.Context) (*redis.Client, error) {
	client, err := redis.New(ctx, rt.Config.Redis, rt.Logger)
	if err != nil {
		return nil, err
	}
	rt.OnClose("redis", client)
	return client, nil
}

// Wire builds the inventory services on the runtime's clients and registers
// them for Close.
func (rt *Runtime) Wire(redisClient *redis.Client, reg prometheus.Registerer) (*Services, error) {
	services, err := NewServices(Params{
		Config:     rt.Config,
		Logger:     rt.Logger,
		DB:         rt.DB,
		Redis:      redisClient,
		Registerer: reg,
	})
	if err != nil {
		return nil, err
	}
	rt.OnClose("inventory services", closerFunc(func() error {
		services.Close()
		return nil
	}))
	return services, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// OnClose registers c to be closed by Close.
func (rt *Runtime) OnClose(name string, c io.Closer) {
	rt.closers = append(rt.closers, namedCloser{name: name, c: c})
}

// Close releases every registered resource, last opened first, and logs
// each failure.
func (rt *Runtime) Close() error {
	var errs error
	for _, nc := range slices.Backward(rt.closers) {
		if err := nc.c.Close(); err != nil {
			rt.Logger.Error(context.Background(), "error closing "+nc.name, err)
			errs = multierr.Append(errs, err)
		}
	}
	rt.closers = nil
	return errs
}

// Fatal logs err, closes the runtime and exits with status 1.
func (rt *Runtime) Fatal(ctx context.Context, msg string, err error) {
	rt.Logger.Error(ctx, msg, err)
	_ = rt.Close()
	os.Exit(1)
}
