package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/nexusbot/nexusbot/internal/config"
)

// AdminSecret returns middleware that gates a route behind the shared admin
// secret. The secret arrives in the X-Admin-Secret header. An empty
// configured secret rejects every request rather than opening the route.
func AdminSecret(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.AdminSecret == "" {
				writeErrorResponse(w, http.StatusForbidden, "Admin endpoint disabled: no secret configured")
				return
			}

			provided := r.Header.Get("X-Admin-Secret")

			// Constant-time comparison prevents timing attacks.
			if subtle.ConstantTimeCompare([]byte(provided), []byte(cfg.AdminSecret)) != 1 {
				writeErrorResponse(w, http.StatusUnauthorized, "Invalid or missing admin secret")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
