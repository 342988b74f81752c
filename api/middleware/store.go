package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/channelstock-backend/api/responses"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
	"github.com/angelmondragon/channelstock-backend/pkg/logger"
)

// StoreHeader lets a client state which store it means to act on. The value
// must match the store in its token.
const StoreHeader = "X-Store-Id"

// StoreContext requires a well-formed store claim and tags the log context
// with it.
func StoreContext(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			storeID, err := uuid.Parse(StoreIDFromContext(ctx))
			if err != nil || storeID == uuid.Nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "store context missing or invalid"))
				return
			}
			if asserted := strings.TrimSpace(r.Header.Get(StoreHeader)); asserted != "" {
				if id, err := uuid.Parse(asserted); err != nil || id != storeID {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "token is not scoped to the requested store").
						WithDetails(map[string]any{"header": StoreHeader}))
					return
				}
			}
			if logg != nil {
				ctx = logg.WithStoreID(ctx, storeID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
