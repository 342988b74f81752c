package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/channelstock-backend/pkg/config"
	"github.com/angelmondragon/channelstock-backend/pkg/db"
	"github.com/angelmondragon/channelstock-backend/pkg/logger"
	"github.com/angelmondragon/channelstock-backend/pkg/migrate"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	dir string
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the channelstock postgres schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.dir, "dir", "", "read migrations from this directory instead of the bundled set")

	cmd.AddCommand(
		withRunner(flags, "up", "Apply all pending migrations", cobra.NoArgs,
			func(ctx context.Context, r *migrate.Runner, _ *cobra.Command, _ []string) error { return r.Up(ctx) }),
		withRunner(flags, "down", "Roll back the latest migration", cobra.NoArgs,
			func(ctx context.Context, r *migrate.Runner, _ *cobra.Command, _ []string) error { return r.Down(ctx) }),
		withRunner(flags, "to VERSION", "Migrate up or down to VERSION (YYYYMMDDHHMMSS)", cobra.ExactArgs(1),
			func(ctx context.Context, r *migrate.Runner, _ *cobra.Command, args []string) error { return r.To(ctx, args[0]) }),
		withRunner(flags, "status", "List migrations and whether they are applied", cobra.NoArgs,
			func(ctx context.Context, r *migrate.Runner, cmd *cobra.Command, _ []string) error {
				return r.Status(ctx, cmd.OutOrStdout())
			}),
		newCreateCommand(),
		newValidateCommand(flags),
	)
	return cmd
}

type runnerFunc func(ctx context.Context, r *migrate.Runner, cmd *cobra.Command, args []string) error

// withRunner builds a subcommand that needs a database connection.
func withRunner(flags *rootFlags, use, short string, args cobra.PositionalArgs, fn runnerFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logg := logger.New(logger.Options{
				ServiceName: "migrate",
				Level:       logger.ParseLevel(cfg.App.LogLevel),
				WarnStack:   cfg.App.LogWarnStack,
				Format:      cfg.App.LogFormat,
			})
			ctx := logg.WithFields(cmd.Context(), map[string]any{
				"env": cfg.App.Env,
				"cmd": cmd.Name(),
			})

			client, err := db.New(ctx, cfg.DB, logg)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer client.Close()

			sqlDB, err := client.DB().DB()
			if err != nil {
				return fmt.Errorf("extract sql.DB: %w", err)
			}
			runner, err := migrate.NewRunner(sqlDB, migrate.Source(flags.dir), logg)
			if err != nil {
				return err
			}
			if err := fn(ctx, runner, cmd, args); err != nil {
				logg.Error(ctx, "migration command failed", err)
				return err
			}
			logg.Info(ctx, "migration command complete")
			return nil
		},
	}
}

func newCreateCommand() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Write an empty migration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := migrate.Create(dir, args[0], time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "created", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "into", migrate.SourceDir, "directory the new file is written to")
	return cmd
}

func newValidateCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check migration names, versions and goose sections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := migrate.Validate(migrate.Source(flags.dir)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations ok")
			return nil
		},
	}
}
