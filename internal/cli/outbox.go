package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/channelstock-backend/pkg/enums"
)

// NewOutboxCommand groups outbox maintenance. Dead letters are global, so
// these commands ignore --store.
func NewOutboxCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and repair the event outbox",
	}
	dlq := &cobra.Command{
		Use:   "dlq",
		Short: "Events the publisher gave up on",
	}
	dlq.AddCommand(newDLQListCommand(rootOpts), newDLQRequeueCommand(rootOpts))
	cmd.AddCommand(dlq)
	return cmd
}

func newDLQListCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		reason string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			parsed, err := enums.ParseOutboxDLQErrorReason(reason)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --reason", err)
			}
			if limit <= 0 {
				return NewExitError(ExitCommandError, "--limit must be positive")
			}
			backend, closeFn, err := rootOpts.backend(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			if backend.DeadLetters == nil {
				return NewExitError(ExitCommandError, "outbox is not configured")
			}

			entries, err := backend.DeadLetters.List(cmd.Context(), parsed, limit)
			if err != nil {
				return err
			}
			return out.Success(entries, func(w io.Writer) {
				for _, e := range entries {
					line := fmt.Sprintf("%s %s %s/%s %s after %d attempts",
						e.EventID, e.FailedAt.UTC().Format(time.RFC3339), e.AggregateType, e.EventType, e.ErrorReason, e.AttemptCount)
					if e.ErrorMessage != nil {
						line += " - " + *e.ErrorMessage
					}
					fmt.Fprintln(w, line)
				}
				fmt.Fprintf(w, "%d dead letters\n", len(entries))
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "only this reason (max_attempts|non_retryable)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to show")
	return cmd
}

func newDLQRequeueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue EVENT_ID...",
		Short: "Hand dead-lettered events back to the publisher",
		Long: `Requeue resets the attempt budget of each event and removes it from the
dead letter table. The publisher picks it up on its next poll.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			ids := make([]uuid.UUID, 0, len(args))
			for _, raw := range args {
				id, err := parseID("event", raw)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			backend, closeFn, err := rootOpts.backend(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			if backend.DeadLetters == nil {
				return NewExitError(ExitCommandError, "outbox is not configured")
			}

			requeued := make([]uuid.UUID, 0, len(ids))
			for _, id := range ids {
				if err := backend.DeadLetters.Requeue(cmd.Context(), id); err != nil {
					return fmt.Errorf("requeue %s: %w", id, err)
				}
				out.VerboseLog("requeued %s", id)
				requeued = append(requeued, id)
			}
			return out.Success(map[string][]uuid.UUID{"requeued": requeued}, func(w io.Writer) {
				fmt.Fprintf(w, "%d events requeued\n", len(requeued))
			})
		},
	}
}
