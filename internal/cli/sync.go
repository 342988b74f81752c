package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/channelstock-backend/internal/orchestrator"
	"github.com/angelmondragon/channelstock-backend/internal/synctracker"
	"github.com/angelmondragon/channelstock-backend/pkg/outbox"
)

type SyncOptions struct {
	*RootOptions
	Concurrency int
	NoResolve   bool
}

// NewSyncCommand runs one inventory batch for a store in the foreground.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push inventory to every channel of a store",
		Long: `Push inventory to every channel of a store and wait for the batch.

Example:
  stockctl sync --store 5f0c... --concurrency 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "parallel channels (0 uses the configured default)")
	cmd.Flags().BoolVar(&opts.NoResolve, "no-resolve", false, "skip auto-resolving conflicts after the batch")

	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	out := opts.formatter(cmd)
	storeID, err := opts.store()
	if err != nil {
		return err
	}
	if opts.Concurrency < 0 {
		return NewExitError(ExitCommandError, "--concurrency must be positive")
	}
	backend, closeFn, err := opts.backend(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	syncOpts := orchestrator.SyncOptions{
		Concurrency: opts.Concurrency,
		Actor:       &outbox.ActorRef{StoreID: storeID, Source: outbox.SourceCLI},
	}
	if opts.NoResolve {
		resolve := false
		syncOpts.AutoResolve = &resolve
	}
	out.VerboseLog("starting batch for store %s", storeID)
	batch, err := backend.Syncer.SyncInventoryAllChannels(cmd.Context(), storeID, syncOpts)
	if err != nil {
		return err
	}
	if err := out.Success(batch, func(w io.Writer) { printBatch(w, batch) }); err != nil {
		return err
	}
	if batch.FailureCount > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d channels failed", batch.FailureCount, batch.TotalChannels))
	}
	return nil
}

func printBatch(w io.Writer, batch *orchestrator.BatchResult) {
	fmt.Fprintf(w, "sync %s: %s\n", batch.SyncID, batch.Status)
	fmt.Fprintf(w, "  channels: %d ok, %d failed of %d\n", batch.SuccessCount, batch.FailureCount, batch.TotalChannels)
	for _, r := range batch.Results {
		state := "ok"
		if !r.Success {
			state = "failed: " + r.Error
			if r.Retryable {
				state += " (retryable)"
			}
		}
		fmt.Fprintf(w, "  - %s (%s) %d/%d products %s\n", r.ChannelID, r.ChannelType, r.Successful, r.TotalProcessed, state)
	}
	fmt.Fprintf(w, "  conflicts detected: %d\n", batch.ConflictsDetected)
	if batch.AutoResolved != nil {
		fmt.Fprintf(w, "  auto-resolved: %d of %d (%d need review)\n",
			batch.AutoResolved.Resolved, batch.AutoResolved.Attempted, batch.AutoResolved.ManualReview)
	}
}

type StatusOptions struct {
	*RootOptions
	Limit int
}

// NewStatusCommand shows one batch, or the store's recent batches.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status [sync-id]",
		Short: "Show sync batch progress",
		Long: `Show one sync batch, or the most recent batches of --store.

Examples:
  stockctl status 0b1e...
  stockctl status --store 5f0c... --limit 5`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, opts, args)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "number of recent batches")

	return cmd
}

func runStatus(cmd *cobra.Command, opts *StatusOptions, args []string) error {
	out := opts.formatter(cmd)
	if len(args) == 1 {
		syncID, err := parseID("sync", args[0])
		if err != nil {
			return err
		}
		backend, closeFn, err := opts.backend(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		snap, err := backend.Tracker.Get(cmd.Context(), syncID)
		if err != nil {
			return err
		}
		return out.Success(snap, func(w io.Writer) { printSnapshot(w, snap) })
	}

	storeID, err := opts.store()
	if err != nil {
		return err
	}
	if opts.Limit < 1 || opts.Limit > 100 {
		return NewExitError(ExitCommandError, "--limit must be between 1 and 100")
	}
	backend, closeFn, err := opts.backend(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()
	snaps, err := backend.Tracker.ListRecent(cmd.Context(), storeID, opts.Limit)
	if err != nil {
		return err
	}
	return out.Success(snaps, func(w io.Writer) {
		if len(snaps) == 0 {
			fmt.Fprintln(w, "no syncs recorded")
			return
		}
		for _, snap := range snaps {
			printSnapshot(w, snap)
		}
	})
}

func printSnapshot(w io.Writer, snap synctracker.Snapshot) {
	fmt.Fprintf(w, "sync %s: %s %d%% (%d/%d channels, %d failed)\n",
		snap.SyncID, snap.Status, snap.Progress, snap.CompletedChannels, snap.TotalChannels, snap.FailureCount)
	if snap.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", snap.Error)
	}
}
