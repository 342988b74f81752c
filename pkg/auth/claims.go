// Package auth issues and verifies the store-scoped operator tokens the API
// accepts.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/channelstock-backend/pkg/enums"
)

// AccessTokenPayload is what the caller decides when minting a token.
type AccessTokenPayload struct {
	UserID  uuid.UUID
	StoreID uuid.UUID
	Role    enums.MemberRole
	JTI     string
}

// AccessTokenClaims is the decoded token. Every inventory call is scoped to
// StoreID.
type AccessTokenClaims struct {
	UserID  uuid.UUID        `json:"user_id"`
	StoreID uuid.UUID        `json:"store_id"`
	Role    enums.MemberRole `json:"role"`
	jwt.RegisteredClaims
}

// Validate runs after the registered claims pass. A missing store is left
// to the HTTP layer, which answers 403 rather than 401.
func (c AccessTokenClaims) Validate() error {
	if !c.Role.IsValid() {
		return fmt.Errorf("unknown member role %q", c.Role)
	}
	return nil
}
