package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/channelstock-backend/pkg/auth"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
)

type mintedToken struct {
	Token     string           `json:"token"`
	StoreID   uuid.UUID        `json:"store_id"`
	UserID    uuid.UUID        `json:"user_id"`
	Role      enums.MemberRole `json:"role"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// NewTokenCommand mints API tokens for operators and automation.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token scoped to --store",
		Long: `Mint a bearer token for the HTTP API. The token is scoped to --store and
carries --role. Without --user a fresh id is used, which suits automation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			storeID, err := rootOpts.store()
			if err != nil {
				return err
			}
			memberRole, err := enums.ParseMemberRole(role)
			if err != nil {
				return NewExitError(ExitCommandError, err.Error())
			}
			uid := uuid.New()
			if userID != "" {
				if uid, err = parseID("user", userID); err != nil {
					return err
				}
			}
			if ttl < 0 {
				return NewExitError(ExitCommandError, "--ttl must not be negative")
			}

			backend, closeFn, err := rootOpts.backend(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			if backend.Tokens == nil {
				return NewExitError(ExitCommandError, "token signing is not configured")
			}

			signed, claims, err := backend.Tokens.Mint(auth.AccessTokenPayload{
				UserID:  uid,
				StoreID: storeID,
				Role:    memberRole,
			}, ttl)
			if err != nil {
				return WrapExitError(ExitCommandError, "mint token", err)
			}
			result := mintedToken{
				Token:     signed,
				StoreID:   storeID,
				UserID:    uid,
				Role:      memberRole,
				ExpiresAt: claims.ExpiresAt.Time.UTC(),
			}
			out.VerboseLog("token for user %s expires %s", uid, result.ExpiresAt.Format(time.RFC3339))
			return out.Success(result, func(w io.Writer) {
				fmt.Fprintln(w, signed)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id the token is issued to")
	cmd.Flags().StringVar(&role, "role", string(enums.MemberRoleOperator), "store role (owner|admin|operator|viewer)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: configured expiration)")
	return cmd
}
