// Package httphandler is the HTTP driving adapter: Google sign-in routes that
// issue API keys, plus health and metrics endpoints.
package httphandler

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ericfisherdev/keyissuer/internal/application"
	"github.com/ericfisherdev/keyissuer/internal/domain/port/driven"
)

const (
	stateCookieName = "oauth_state"
	stateCookieTTL  = 10 * time.Minute
)

// Handler is the HTTP driving adapter that serves the sign-in flow.
type Handler struct {
	issuer *application.IssuanceService
	logger *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(issuer *application.IssuanceService, logger *slog.Logger) *Handler {
	return &Handler{
		issuer: issuer,
		logger: logger,
	}
}

// RegisterAPIRoutes registers sign-in, health and metrics routes on mux.
func RegisterAPIRoutes(mux *http.ServeMux, h *Handler, gatherer prometheus.Gatherer) {
	mux.HandleFunc("GET /login", h.Login)
	mux.HandleFunc("GET /callback", h.Callback)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	RegisterAPIRoutes(mux, h, gatherer)
	return ApplyMiddleware(mux, logger)
}

// Login redirects to the identity provider consent screen. The state value is
// kept in a short-lived cookie and checked on the callback.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	authURL, state := h.issuer.LoginURL()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int(stateCookieTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})

	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback completes the sign-in and returns the identity's API key.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if !validState(r, q.Get("state")) {
		writeError(w, http.StatusBadRequest, "invalid oauth state")
		return
	}
	clearStateCookie(w, r)

	if providerErr := q.Get("error"); providerErr != "" {
		writeError(w, http.StatusBadRequest, "OAuth2 error: "+providerErr)
		return
	}

	code := q.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing authorization code")
		return
	}

	out, err := h.issuer.Issue(r.Context(), code)
	switch {
	case errors.Is(err, driven.ErrCodeExchange), errors.Is(err, driven.ErrIdentityUnverified):
		writeError(w, http.StatusBadRequest, "OAuth2 error: could not verify identity")
		return
	case errors.Is(err, driven.ErrStorageUnavailable):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "key store unavailable, retry later")
		return
	case err != nil:
		h.logger.Error("callback failed", "email", out.Email, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := toAPIKeyResponse(out)
	if out.Result.IsRevoked() {
		writeJSON(w, http.StatusForbidden, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health reports whether the key store is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC().Format(time.RFC3339)

	if err := h.issuer.Ready(r.Context()); err != nil {
		h.logger.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Time: now})
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Time: now})
}

// validState reports whether state is non-empty and equals the login cookie.
func validState(r *http.Request, state string) bool {
	cookie, err := r.Cookie(stateCookieName)
	if err != nil || cookie.Value == "" || state == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) == 1
}

func clearStateCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
}
