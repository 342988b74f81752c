package cli

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/channelstock-backend/internal/conflicts"
	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
)

const cliActor = "cli"

// NewConflictsCommand groups conflict detection and resolution.
func NewConflictsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Detect and resolve channel conflicts",
	}
	cmd.AddCommand(newConflictsDetectCommand(rootOpts))
	cmd.AddCommand(newConflictsResolveCommand(rootOpts))
	return cmd
}

type detectOptions struct {
	*RootOptions
	Products    []string
	AutoResolve bool
}

func newConflictsDetectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &detectOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Compare local stock with what channels last reported",
		Long: `Compare local stock with what channels last reported.

Examples:
  stockctl conflicts detect --store 5f0c...
  stockctl conflicts detect --store 5f0c... --product 9a4d... --auto-resolve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetect(cmd, opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.Products, "product", nil, "limit detection to these product ids")
	cmd.Flags().BoolVar(&opts.AutoResolve, "auto-resolve", false, "auto-resolve pending conflicts afterwards")
	return cmd
}

func runDetect(cmd *cobra.Command, opts *detectOptions) error {
	out := opts.formatter(cmd)
	storeID, err := opts.store()
	if err != nil {
		return err
	}
	productIDs := make([]uuid.UUID, 0, len(opts.Products))
	for _, raw := range opts.Products {
		id, err := parseID("product", raw)
		if err != nil {
			return err
		}
		productIDs = append(productIDs, id)
	}

	backend, closeFn, err := opts.backend(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	found, err := backend.Conflicts.DetectForStore(cmd.Context(), storeID, productIDs)
	if err != nil {
		return err
	}
	result := detectResult{Detected: found}
	if opts.AutoResolve {
		summary, err := backend.Conflicts.AutoResolvePending(cmd.Context(), storeID)
		if err != nil {
			return err
		}
		result.AutoResolved = &summary
		out.VerboseLog("auto-resolved %d of %d", summary.Resolved, summary.Attempted)
	}
	return out.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "%d conflicts detected\n", len(found))
		for _, c := range found {
			printConflict(w, c)
		}
		if s := result.AutoResolved; s != nil {
			fmt.Fprintf(w, "auto-resolved %d of %d (%d need review)\n", s.Resolved, s.Attempted, s.ManualReview)
		}
	})
}

type detectResult struct {
	Detected     []models.Conflict             `json:"detected"`
	AutoResolved *conflicts.AutoResolveSummary `json:"auto_resolved,omitempty"`
}

type resolveOptions struct {
	*RootOptions
	Strategy string
	Value    float64
}

func newConflictsResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &resolveOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Resolve one conflict",
		Long: `Resolve one conflict with a strategy, or with an explicit value.

Examples:
  stockctl conflicts resolve 77c2... --strategy source_priority
  stockctl conflicts resolve 77c2... --value 14`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.Strategy, "strategy", "", "last_write_wins|source_priority|manual_review|manual_value")
	cmd.Flags().Float64Var(&opts.Value, "value", 0, "value to apply (implies manual_value)")
	return cmd
}

func runResolve(cmd *cobra.Command, opts *resolveOptions, rawID string) error {
	out := opts.formatter(cmd)
	conflictID, err := parseID("conflict", rawID)
	if err != nil {
		return err
	}
	manual := cmd.Flags().Changed("value")
	var strategy enums.ResolutionStrategy
	switch {
	case manual:
		if opts.Strategy != "" && opts.Strategy != string(enums.ResolutionManualValue) {
			return NewExitError(ExitCommandError, "--value only applies to manual_value")
		}
		if opts.Value < 0 {
			return NewExitError(ExitCommandError, "--value must not be negative")
		}
	case opts.Strategy == "":
		return NewExitError(ExitCommandError, "--strategy or --value is required")
	default:
		strategy, err = enums.ParseResolutionStrategy(opts.Strategy)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --strategy", err)
		}
		if strategy == enums.ResolutionManualValue {
			return NewExitError(ExitCommandError, "manual_value requires --value")
		}
	}

	backend, closeFn, err := opts.backend(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	var resolved *models.Conflict
	if manual {
		resolved, err = backend.Conflicts.ResolveManually(cmd.Context(), conflictID, opts.Value, cliActor)
	} else {
		resolved, err = backend.Conflicts.Resolve(cmd.Context(), conflictID, strategy, cliActor)
	}
	if err != nil {
		return err
	}
	return out.Success(resolved, func(w io.Writer) { printConflict(w, *resolved) })
}

func printConflict(w io.Writer, c models.Conflict) {
	fmt.Fprintf(w, "  - %s %s %s [%s] local=%g deviation=%.1f%%",
		c.ID, c.Type, c.Status, c.Priority, c.LocalValue, c.DeviationPercent)
	if c.ResolvedValue != nil {
		fmt.Fprintf(w, " resolved=%g", *c.ResolvedValue)
	}
	fmt.Fprintln(w)
}
