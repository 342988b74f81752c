// Package cli implements stockctl, the operator command line for the
// inventory stack.
package cli

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/channelstock-backend/internal/allocation"
	"github.com/angelmondragon/channelstock-backend/internal/conflicts"
	"github.com/angelmondragon/channelstock-backend/internal/orchestrator"
	"github.com/angelmondragon/channelstock-backend/internal/synctracker"
	"github.com/angelmondragon/channelstock-backend/pkg/auth"
	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

type Syncer interface {
	SyncInventoryAllChannels(ctx context.Context, storeID uuid.UUID, opts orchestrator.SyncOptions) (*orchestrator.BatchResult, error)
}

type Tracker interface {
	Get(ctx context.Context, syncID uuid.UUID) (synctracker.Snapshot, error)
	ListRecent(ctx context.Context, storeID uuid.UUID, limit int) ([]synctracker.Snapshot, error)
}

type Allocator interface {
	Allocate(ctx context.Context, productID uuid.UUID, strategy *enums.AllocationStrategy, opts allocation.AllocateOptions) (*allocation.Result, error)
}

type ConflictResolver interface {
	DetectForStore(ctx context.Context, storeID uuid.UUID, productIDs []uuid.UUID) ([]models.Conflict, error)
	AutoResolvePending(ctx context.Context, storeID uuid.UUID) (conflicts.AutoResolveSummary, error)
	Resolve(ctx context.Context, conflictID uuid.UUID, strategy enums.ResolutionStrategy, actor string) (*models.Conflict, error)
	ResolveManually(ctx context.Context, conflictID uuid.UUID, value float64, actor string) (*models.Conflict, error)
}

type TokenMinter interface {
	Mint(payload auth.AccessTokenPayload, ttl time.Duration) (string, *auth.AccessTokenClaims, error)
}

type DeadLetterQueue interface {
	List(ctx context.Context, reason enums.OutboxDLQErrorReason, limit int) ([]models.OutboxDLQ, error)
	Requeue(ctx context.Context, eventID uuid.UUID) error
}

type CredentialChecker interface {
	CheckCredentials(ctx context.Context, storeID uuid.UUID) ([]orchestrator.CredentialCheck, error)
}

// Backend is the service set the commands drive.
type Backend struct {
	Syncer      Syncer
	Tracker     Tracker
	Allocator   Allocator
	Conflicts   ConflictResolver
	Credentials CredentialChecker
	Tokens      TokenMinter
	DeadLetters DeadLetterQueue
}

// Loader opens a Backend. The returned func releases what it opened.
type Loader func(ctx context.Context) (*Backend, func(), error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string
	StoreID string

	load Loader
}

// NewRootCommand builds stockctl. load is called lazily so --help and flag
// errors never touch the database.
func NewRootCommand(load Loader) *cobra.Command {
	opts := &RootOptions{load: load}

	cmd := &cobra.Command{
		Use:   "stockctl",
		Short: "Operate multi-channel inventory",
		Long:  "stockctl runs syncs, allocations and conflict resolution against the channel inventory stack.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.StoreID, "store", "", "store id the command acts on")

	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewAllocateCommand(opts))
	cmd.AddCommand(NewConflictsCommand(opts))
	cmd.AddCommand(NewVaultCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewOutboxCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func (o *RootOptions) backend(ctx context.Context) (*Backend, func(), error) {
	if o.load == nil {
		return nil, nil, NewExitError(ExitCommandError, "no backend configured")
	}
	b, closeFn, err := o.load(ctx)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "open backend", err)
	}
	if closeFn == nil {
		closeFn = func() {}
	}
	return b, closeFn, nil
}

func (o *RootOptions) store() (uuid.UUID, error) {
	if o.StoreID == "" {
		return uuid.Nil, NewExitError(ExitCommandError, "--store is required")
	}
	return parseID("store", o.StoreID)
}

func parseID(label, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, WrapExitError(ExitCommandError, "invalid "+label+" id", err)
	}
	return id, nil
}
