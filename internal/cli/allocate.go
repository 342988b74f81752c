package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/channelstock-backend/internal/allocation"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	"github.com/angelmondragon/channelstock-backend/pkg/outbox"
)

type AllocateOptions struct {
	*RootOptions
	Strategy string
}

// NewAllocateCommand reruns the allocation engine for one product.
func NewAllocateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AllocateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "allocate <product-id>",
		Short: "Recompute channel allocations for a product",
		Long: `Recompute channel allocations for a product.

Without --strategy the product's stored strategy is used.

Example:
  stockctl allocate 9a4d... --strategy demand_weighted`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAllocate(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Strategy, "strategy", "", "equal|priority_weighted|performance_weighted|demand_weighted|custom")

	return cmd
}

func runAllocate(cmd *cobra.Command, opts *AllocateOptions, rawID string) error {
	out := opts.formatter(cmd)
	productID, err := parseID("product", rawID)
	if err != nil {
		return err
	}
	var strategy *enums.AllocationStrategy
	if opts.Strategy != "" {
		parsed, err := enums.ParseAllocationStrategy(opts.Strategy)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --strategy", err)
		}
		strategy = &parsed
	}

	backend, closeFn, err := opts.backend(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	allocOpts := allocation.AllocateOptions{Trigger: allocation.TriggerManual}
	if opts.StoreID != "" {
		storeID, err := opts.store()
		if err != nil {
			return err
		}
		allocOpts.Actor = &outbox.ActorRef{StoreID: storeID, Source: outbox.SourceCLI}
	}
	res, err := backend.Allocator.Allocate(cmd.Context(), productID, strategy, allocOpts)
	if err != nil {
		return err
	}
	return out.Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "product %s: %s, %d of %d units allocated\n", res.ProductID, res.Strategy, res.Allocated, res.Available)
		for _, c := range res.Channels {
			fmt.Fprintf(w, "  - %s allocated=%d reserved=%d buffer=%d\n", c.ChannelID, c.Allocated, c.Reserved, c.Buffer)
		}
	})
}
