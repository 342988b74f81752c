package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/channelstock-backend/internal/bootstrap"
	"github.com/angelmondragon/channelstock-backend/internal/cli"
	"github.com/angelmondragon/channelstock-backend/pkg/auth"
	"github.com/angelmondragon/channelstock-backend/pkg/config"
	"github.com/angelmondragon/channelstock-backend/pkg/db"
	"github.com/angelmondragon/channelstock-backend/pkg/logger"
	"github.com/angelmondragon/channelstock-backend/pkg/outbox"
	"github.com/angelmondragon/channelstock-backend/pkg/redis"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(loadBackend)
	err := root.ExecuteContext(ctx)
	if err != nil {
		format, _ := root.PersistentFlags().GetString("format")
		(&cli.OutputFormatter{Format: format, Writer: os.Stdout, ErrWriter: os.Stderr}).Error(err)
	}
	stop()
	os.Exit(cli.GetExitCode(err))
}

// loadBackend opens the database and redis and wires the full stack. Logs
// go to stderr so command output stays parseable.
func loadBackend(ctx context.Context) (*cli.Backend, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logg := logger.New(logger.Options{
		ServiceName: "stockctl",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      "console",
		Output:      os.Stderr,
	})

	issuer, err := auth.NewIssuer(cfg.JWT)
	if err != nil {
		return nil, nil, err
	}
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, nil, err
	}
	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		_ = dbClient.Close()
		return nil, nil, err
	}
	services, err := bootstrap.NewServices(bootstrap.Params{
		Config: cfg,
		Logger: logg,
		DB:     dbClient,
		Redis:  redisClient,
	})
	if err != nil {
		_ = redisClient.Close()
		_ = dbClient.Close()
		return nil, nil, err
	}

	closeFn := func() {
		services.Close()
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}
	return &cli.Backend{
		Syncer:      services.Orchestrator,
		Tracker:     services.Tracker,
		Allocator:   services.Allocator,
		Conflicts:   services.Conflicts,
		Credentials: services.Orchestrator,
		Tokens:      issuer,
		DeadLetters: outbox.NewDLQRepository(dbClient.DB()),
	}, closeFn, nil
}
