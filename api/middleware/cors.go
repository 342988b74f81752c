package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

const corsMaxAgeSeconds = 300

var (
	localDevOrigins = []string{"http://localhost:3000"}
	corsMethods     = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions}
	corsHeaders     = []string{"Accept", "Authorization", "Content-Type", idempotencyKeyHeader, requestIDHeader, StoreHeader}
)

// CORS admits browser calls from origins, or from the local dashboard when
// none are configured.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = localDevOrigins
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   corsMethods,
		AllowedHeaders:   corsHeaders,
		ExposedHeaders:   []string{requestIDHeader, "Retry-After", "Idempotent-Replayed"},
		AllowCredentials: true,
		MaxAge:           corsMaxAgeSeconds,
	})
}
