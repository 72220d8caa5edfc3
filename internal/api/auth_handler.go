package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/James-May-Coding/myrail-network/internal/auth"
	"github.com/James-May-Coding/myrail-network/internal/identity"
	"github.com/James-May-Coding/myrail-network/internal/metrics"
	"github.com/James-May-Coding/myrail-network/internal/user"
)

// authHandler groups the Discord login flow and session endpoints.
type authHandler struct {
	identity   *identity.Client
	users      *user.Store
	state      *auth.StateSigner
	cookieName string
	sessionTTL time.Duration
	metrics    *metrics.Metrics
}

func newAuthHandler(idc *identity.Client, users *user.Store, state *auth.StateSigner, cookieName string, ttl time.Duration, m *metrics.Metrics) *authHandler {
	if cookieName == "" {
		cookieName = auth.DefaultCookieName
	}
	if ttl <= 0 {
		ttl = user.DefaultSessionTTL
	}
	return &authHandler{
		identity:   idc,
		users:      users,
		state:      state,
		cookieName: cookieName,
		sessionTTL: ttl,
		metrics:    m,
	}
}

// DiscordRedirect handles GET /api/v1/auth/discord by redirecting to Discord.
func (h *authHandler) DiscordRedirect(w http.ResponseWriter, r *http.Request) {
	state, err := h.state.Issue()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to start login")
		return
	}
	http.Redirect(w, r, h.identity.AuthURL(state), http.StatusFound)
}

// Callback handles GET /api/v1/auth/callback: it exchanges the code,
// upserts the user, issues a session cookie, and redirects to the
// dashboard.
func (h *authHandler) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "missing code")
		return
	}
	if err := h.state.Verify(r.URL.Query().Get("state")); err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid oauth state")
		return
	}

	profile, err := h.identity.Exchange(r.Context(), code)
	if err != nil {
		slog.Error("oauth exchange failed", "error", err)
		if h.metrics != nil {
			h.metrics.OAuthExchangesTotal.WithLabelValues("error").Inc()
		}
		writeServiceError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.OAuthExchangesTotal.WithLabelValues("ok").Inc()
	}

	u, err := h.users.Resolve(r.Context(), user.ResolveInput{
		DiscordID: profile.ID,
		Username:  profile.Username,
		Email:     profile.Email,
		Avatar:    profile.Avatar,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to resolve user")
		return
	}

	token, _, err := h.users.CreateSession(r.Context(), u.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create session")
		return
	}
	if h.metrics != nil {
		h.metrics.SessionsIssuedTotal.Inc()
	}

	auth.SetSessionCookie(w, h.cookieName, token, h.sessionTTL)
	http.Redirect(w, r, "/dashboard", http.StatusFound)
}

// Session handles GET /api/v1/auth/session and returns the current user.
func (h *authHandler) Session(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	if u == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user": map[string]interface{}{
			"id":         u.ID,
			"discord_id": u.DiscordID,
			"username":   u.Username,
			"email":      u.Email,
			"avatar":     u.Avatar,
		},
	})
}

// Logout handles POST /api/v1/auth/logout. Revoking an already revoked
// session is a no-op.
func (h *authHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromRequest(r, h.cookieName)
	if token != "" {
		_ = h.users.DeleteSession(r.Context(), token)
	}
	auth.ClearSessionCookie(w, h.cookieName)
	w.WriteHeader(http.StatusNoContent)
}
