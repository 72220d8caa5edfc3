package auth

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// DefaultCookieName is the session cookie set on login.
const DefaultCookieName = "myrail_session"

// MetricsRecorder is an optional interface for recording auth outcomes.
type MetricsRecorder interface {
	IncAuthSuccess()
	IncAuthFailure()
}

// SessionMiddleware validates the session token and injects the user
// into the request context. The token is taken from the session cookie
// or, for non-browser clients, from an Authorization bearer header.
func SessionMiddleware(sessions SessionLookup, cookieName string, recorders ...MetricsRecorder) func(http.Handler) http.Handler {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r, cookieName)
			if token == "" {
				recordFailure(recorders)
				writeUnauthorized(w, "missing session token")
				return
			}

			user, err := sessions.LookupSession(r.Context(), token)
			if err != nil || user == nil {
				recordFailure(recorders)
				writeUnauthorized(w, "invalid or expired session")
				return
			}

			for _, rec := range recorders {
				rec.IncAuthSuccess()
			}
			ctx := ContextWithUser(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func recordFailure(recorders []MetricsRecorder) {
	for _, rec := range recorders {
		rec.IncAuthFailure()
	}
}

// TokenFromRequest extracts the session token from the named cookie or
// the Authorization header. The cookie wins when both are present.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return extractBearerToken(r)
}

// SetSessionCookie writes the session cookie: HttpOnly, SameSite=Lax,
// Path=/, Max-Age bounded by the session TTL.
func SetSessionCookie(w http.ResponseWriter, cookieName, token string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter, cookieName string) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error: errorBody{
			Code:    "unauthorized",
			Message: message,
		},
	})
}
