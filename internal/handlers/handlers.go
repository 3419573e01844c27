// Package handlers provides the HTTP control surface: status, one-shot
// checks, session management, and the number claim endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nexusbot/nexusbot/internal/assets"
	"github.com/nexusbot/nexusbot/internal/assign"
	"github.com/nexusbot/nexusbot/internal/config"
	"github.com/nexusbot/nexusbot/internal/monitor"
	"github.com/nexusbot/nexusbot/internal/store"
	"github.com/nexusbot/nexusbot/internal/types"
	"github.com/nexusbot/nexusbot/pkg/version"
)

// maxBodySize bounds request bodies to prevent memory exhaustion.
const maxBodySize = 1 << 20 // 1MB

// Monitor is the supervising loop surface the handlers drive.
type Monitor interface {
	CheckOnce(ctx context.Context) (int, error)
	Status() types.Status
	RangeStats() map[string]monitor.RangeStatsJSON
}

// SessionControl is the portal session surface the handlers drive.
type SessionControl interface {
	Authenticate(ctx context.Context) error
	Invalidate()
	InjectCookies(ctx context.Context, cookies []types.Cookie) error
}

// Directory fetches the owned-numbers directory on demand.
type Directory interface {
	FetchNumberDirectory(ctx context.Context) ([]types.NumberRecord, error)
}

// Handler serves the control surface endpoints.
type Handler struct {
	monitor   Monitor
	session   SessionControl
	directory Directory
	cache     *store.NumbersCache
	registry  *assign.Registry
	config    *config.Config
}

// New creates a Handler wired to the running components.
func New(mon Monitor, sess SessionControl, dir Directory, cache *store.NumbersCache, registry *assign.Registry, cfg *config.Config) *Handler {
	return &Handler{
		monitor:   mon,
		session:   sess,
		directory: dir,
		cache:     cache,
		registry:  registry,
		config:    cfg,
	}
}

// apiResponse is the standard envelope for simple operations.
type apiResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Version   string `json:"version"`
}

// statusResponse wraps the loop status with per-range delivery counters.
type statusResponse struct {
	Status string                            `json:"status"`
	State  types.Status                      `json:"state"`
	Ranges map[string]monitor.RangeStatsJSON `json:"ranges"`
}

// HandleStatus serves GET / and GET /status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status: "ok",
		State:  h.monitor.Status(),
		Ranges: h.monitor.RangeStats(),
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// HandleHealth serves GET /health for load balancers and uptime probes.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	st := h.monitor.Status()
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"version":       version.Full(),
		"goVersion":     version.GoVersion(),
		"running":       st.Running,
		"authenticated": st.Authenticated,
		"uptimeSeconds": st.UptimeSeconds,
	})
}

// HandleCheck serves POST /check: run one harvest cycle immediately.
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	delivered, err := h.monitor.CheckOnce(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("Manual check failed")
		h.writeError(w, http.StatusBadGateway, "Check failed: "+err.Error())
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"delivered": delivered,
	})
}

// HandleRelogin serves POST /relogin: drop the session and authenticate
// from scratch.
func (h *Handler) HandleRelogin(w http.ResponseWriter, r *http.Request) {
	h.session.Invalidate()

	if err := h.session.Authenticate(r.Context()); err != nil {
		log.Warn().Err(err).Msg("Manual re-login failed")
		h.writeError(w, http.StatusBadGateway, "Re-login failed: "+err.Error())
		return
	}

	h.writeOK(w, "Session re-established")
}

// HandleRefreshNumbers serves POST /refresh-numbers: drop the cached
// directory and refetch it now.
func (h *Handler) HandleRefreshNumbers(w http.ResponseWriter, r *http.Request) {
	h.cache.Invalidate()

	records, err := h.directory.FetchNumberDirectory(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("Manual directory refresh failed")
		h.writeError(w, http.StatusBadGateway, "Directory refresh failed: "+err.Error())
		return
	}
	h.cache.Set(records)

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"count":  len(records),
	})
}

// HandleNumbersByRange serves GET /numbers-by-range: the cached directory
// grouped by range label.
func (h *Handler) HandleNumbersByRange(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"ranges": h.cache.ByRange(),
	})
}

// claimRequest is the body for POST /claim and POST /release.
type claimRequest struct {
	Holder string `json:"holder"`
	Number string `json:"number,omitempty"`
}

// HandleClaim serves POST /claim: reserve a number for a recipient so its
// next OTP is delivered to them directly.
func (h *Handler) HandleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.Holder == "" || req.Number == "" {
		h.writeError(w, http.StatusBadRequest, "Both holder and number are required")
		return
	}

	if !h.registry.Claim(req.Holder, req.Number) {
		h.writeError(w, http.StatusConflict, "Number is already claimed")
		return
	}

	h.writeOK(w, "Number claimed")
}

// HandleRelease serves POST /release: drop a recipient's claim.
func (h *Handler) HandleRelease(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.Holder == "" {
		h.writeError(w, http.StatusBadRequest, "Holder is required")
		return
	}

	h.registry.Release(req.Holder)
	h.writeOK(w, "Claim released")
}

// cookieUpdateRequest is the body for POST /update-cookies.
type cookieUpdateRequest struct {
	Cookies []types.Cookie `json:"cookies"`
}

// HandleUpdateCookies serves POST /update-cookies: inject externally
// captured cookies instead of running the login flow. Gated behind the
// admin secret by the router.
func (h *Handler) HandleUpdateCookies(w http.ResponseWriter, r *http.Request) {
	var req cookieUpdateRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if len(req.Cookies) == 0 {
		h.writeError(w, http.StatusBadRequest, "At least one cookie is required")
		return
	}

	if err := h.session.InjectCookies(r.Context(), req.Cookies); err != nil {
		log.Warn().Err(err).Msg("Cookie injection failed")
		h.writeError(w, http.StatusBadGateway, "Cookie injection failed: "+err.Error())
		return
	}

	h.writeOK(w, "Cookies accepted, session established")
}

// HandleAdmin serves GET /admin: a small status panel rendered server-side.
func (h *Handler) HandleAdmin(w http.ResponseWriter, r *http.Request) {
	st := h.monitor.Status()

	page, err := assets.RenderAdminPage(assets.AdminPageData{
		Version:       version.Full(),
		GoVersion:     version.GoVersion(),
		Running:       st.Running,
		Authenticated: st.Authenticated,
		Uptime:        (time.Duration(st.UptimeSeconds) * time.Second).String(),
		ChecksTotal:   st.ChecksTotal,
		MessagesSent:  st.MessagesSent,
		KnownRanges:   st.KnownRanges,
		CachedNumbers: st.CachedNumbers,
		LastError:     st.LastError,
	})
	if err != nil {
		log.Error().Err(err).Msg("Admin page render failed")
		h.writeError(w, http.StatusInternalServerError, "Render failed")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(page))
}

// HandleNotFound serves unknown paths.
func (h *Handler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, http.StatusNotFound, "Not found")
}

// decodeBody reads and decodes a JSON request body using a pooled buffer.
// Writes the error response itself and returns false on failure.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	buf := getBuffer()
	defer putBuffer(buf)

	if _, err := io.Copy(buf, r.Body); err != nil {
		log.Warn().Err(err).Msg("Failed to read request body")
		h.writeError(w, http.StatusBadRequest, "Failed to read request")
		return false
	}

	if err := json.Unmarshal(buf.Bytes(), dst); err != nil {
		log.Warn().Err(err).Msg("Failed to decode request")
		h.writeError(w, http.StatusBadRequest, "Invalid JSON request")
		return false
	}
	return true
}

func (h *Handler) writeOK(w http.ResponseWriter, message string) {
	h.writeJSONResponse(w, http.StatusOK, apiResponse{
		Status:    "ok",
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
		Version:   version.Full(),
	})
}

func (h *Handler) writeError(w http.ResponseWriter, statusCode int, message string) {
	h.writeJSONResponse(w, statusCode, apiResponse{
		Status:    "error",
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
		Version:   version.Full(),
	})
}

// writeJSONResponse buffers the JSON before writing so encoding errors are
// caught before headers go out.
func (h *Handler) writeJSONResponse(w http.ResponseWriter, statusCode int, resp interface{}) {
	buf := getResponseBuffer()
	defer putResponseBuffer(buf)

	if err := json.NewEncoder(buf).Encode(resp); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":"error","message":"internal encoding error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	_, _ = w.Write(buf.Bytes())
}
