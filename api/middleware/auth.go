package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/channelstock-backend/api/responses"
	pkgAuth "github.com/angelmondragon/channelstock-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
	"github.com/angelmondragon/channelstock-backend/pkg/logger"
)

// TokenParser verifies a raw bearer token.
type TokenParser interface {
	Parse(raw string) (*pkgAuth.AccessTokenClaims, error)
}

// Auth validates a bearer token and seeds the request context with the claims.
// Every token is scoped to one store. A nil parser rejects all requests.
func Auth(tokens TokenParser, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			if tokens == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "token verification unavailable"))
				return
			}

			claims, err := tokens.Parse(token)
			switch {
			case errors.Is(err, pkgAuth.ErrTokenExpired):
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "token expired"))
				return
			case err != nil:
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			case claims.StoreID == uuid.Nil:
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "token carries no store"))
				return
			}

			principal := Principal{
				UserID:  claims.UserID.String(),
				Role:    string(claims.Role),
				StoreID: claims.StoreID.String(),
			}
			ctx := WithPrincipal(r.Context(), principal)
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{
					logger.FieldUserID:  principal.UserID,
					"actor_role":        principal.Role,
					logger.FieldStoreID: principal.StoreID,
				})
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken accepts both "Bearer <token>" and a bare token.
func bearerToken(header string) string {
	token := strings.TrimSpace(header)
	if len(token) >= 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}
