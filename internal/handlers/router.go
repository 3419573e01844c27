package handlers

import (
	"net/http"

	"github.com/nexusbot/nexusbot/internal/config"
	"github.com/nexusbot/nexusbot/internal/middleware"
)

// NewRouter builds the control surface route table. Mutating session
// endpoints sit behind the admin secret; everything else is open to the
// bound interface (rate limiting and CORS wrap the whole router in main).
func NewRouter(h *Handler, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	adminGate := middleware.AdminSecret(cfg)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			h.HandleNotFound(w, r)
			return
		}
		requireMethod(http.MethodGet, h.HandleStatus)(w, r)
	})
	mux.HandleFunc("/status", requireMethod(http.MethodGet, h.HandleStatus))
	mux.HandleFunc("/health", requireMethod(http.MethodGet, h.HandleHealth))
	mux.HandleFunc("/admin", requireMethod(http.MethodGet, h.HandleAdmin))
	mux.HandleFunc("/numbers-by-range", requireMethod(http.MethodGet, h.HandleNumbersByRange))

	// Trigger endpoints are GET so an operator can hit them from a browser
	// address bar, matching the surface this replaces.
	mux.HandleFunc("/check", requireMethod(http.MethodGet, h.HandleCheck))
	mux.HandleFunc("/relogin", requireMethod(http.MethodGet, h.HandleRelogin))
	mux.HandleFunc("/refresh-numbers", requireMethod(http.MethodGet, h.HandleRefreshNumbers))

	mux.HandleFunc("/claim", requireMethod(http.MethodPost, h.HandleClaim))
	mux.HandleFunc("/release", requireMethod(http.MethodPost, h.HandleRelease))

	mux.Handle("/update-cookies", adminGate(requireMethodHandler(http.MethodPost, h.HandleUpdateCookies)))

	return mux
}

// requireMethod rejects requests with the wrong HTTP method.
func requireMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusMethodNotAllowed)
			_, _ = w.Write([]byte(`{"status":"error","message":"Method not allowed"}`))
			return
		}
		next(w, r)
	}
}

func requireMethodHandler(method string, next http.HandlerFunc) http.Handler {
	return requireMethod(method, next)
}
