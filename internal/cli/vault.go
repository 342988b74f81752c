package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/channelstock-backend/internal/orchestrator"
)

// NewVaultCommand groups credential vault maintenance.
func NewVaultCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Inspect sealed channel credentials",
	}
	cmd.AddCommand(newEncryptCheckCommand(rootOpts))
	return cmd
}

func newEncryptCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt-check",
		Short: "Verify every channel credential opens under the current key",
		Long: `Verify every channel credential of --store opens under the current
master key. Exits 1 when any channel needs to be reconnected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEncryptCheck(cmd, rootOpts)
		},
	}
}

func runEncryptCheck(cmd *cobra.Command, opts *RootOptions) error {
	out := opts.formatter(cmd)
	storeID, err := opts.store()
	if err != nil {
		return err
	}
	backend, closeFn, err := opts.backend(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	checks, err := backend.Credentials.CheckCredentials(cmd.Context(), storeID)
	if err != nil {
		return err
	}
	bad := 0
	for _, c := range checks {
		if c.Status != orchestrator.CredentialOK {
			bad++
		}
	}
	if err := out.Success(checks, func(w io.Writer) {
		for _, c := range checks {
			line := fmt.Sprintf("%s %s (%s): %s", c.ChannelID, c.Name, c.Type, c.Status)
			if c.Stale {
				line += fmt.Sprintf(" [key v%d]", c.KeyVersion)
			}
			if c.Detail != "" {
				line += " - " + c.Detail
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintf(w, "%d of %d channels ok\n", len(checks)-bad, len(checks))
	}); err != nil {
		return err
	}
	if bad > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d channels need new credentials", bad))
	}
	return nil
}
