package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/James-May-Coding/myrail-network/internal/auth"
	"github.com/James-May-Coding/myrail-network/internal/community"
	"github.com/James-May-Coding/myrail-network/internal/identity"
	"github.com/James-May-Coding/myrail-network/internal/metrics"
	"github.com/James-May-Coding/myrail-network/internal/ratelimit"
	"github.com/James-May-Coding/myrail-network/internal/realtime"
	"github.com/James-May-Coding/myrail-network/internal/train"
	"github.com/James-May-Coding/myrail-network/internal/ui"
	"github.com/James-May-Coding/myrail-network/internal/user"
)

// Pinger reports storage reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Sessions    auth.SessionLookup
	CookieName  string
	SessionTTL  time.Duration
	Identity    *identity.Client
	States      *auth.StateSigner
	Users       *user.Store
	Communities *community.Service
	Trains      *train.Service
	Hub         *realtime.Hub
	Limiter     *ratelimit.Limiter
	Metrics     *metrics.Metrics
	DB          Pinger
	PoolStats   func() metrics.PoolStats

	AllowedOrigins []string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(slogRequestLogger)
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.AllowedOrigins))
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// Handlers.
	authH := newAuthHandler(deps.Identity, deps.Users, deps.States, deps.CookieName, deps.SessionTTL, deps.Metrics)
	communities := newCommunitiesHandler(deps.Communities, deps.Hub)
	invites := newInvitesHandler(deps.Communities)
	trains := newTrainsHandler(deps.Trains, deps.Metrics)

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		dbStatus := "connected"
		if deps.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.DB.Ping(ctx); err != nil {
				dbStatus = "unreachable"
			}
		}
		status := http.StatusOK
		if dbStatus != "connected" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]string{"status": "ok", "database": dbStatus})
	})

	// Live metrics summary.
	if deps.Metrics != nil {
		r.Get("/metrics", deps.Metrics.Handler(deps.PoolStats))
	}

	// Dashboard. The page itself is public; everything it shows comes
	// through the session-authed API.
	dashboard := ui.Handler()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
	})
	r.Get("/dashboard", dashboard.ServeHTTP)

	// Public (unauthenticated) routes.
	r.Get("/api/v1/auth/discord", authH.DiscordRedirect)
	r.Get("/api/v1/auth/callback", authH.Callback)

	// Session-authed routes.
	r.Route("/api/v1", func(ar chi.Router) {
		if deps.Metrics != nil {
			ar.Use(auth.SessionMiddleware(deps.Sessions, deps.CookieName, deps.Metrics))
		} else {
			ar.Use(auth.SessionMiddleware(deps.Sessions, deps.CookieName))
		}
		if deps.Limiter != nil {
			ar.Use(rateLimitMiddleware(deps.Limiter, deps.Metrics))
		}

		ar.Get("/auth/session", authH.Session)
		ar.Post("/auth/logout", authH.Logout)

		ar.Get("/communities", communities.List)
		ar.Post("/communities", communities.Create)
		ar.Post("/communities/join", communities.Join)
		ar.Get("/communities/{id}/members", communities.ListMembers)
		ar.Put("/communities/{id}/members/{userID}", communities.UpdateMemberRole)
		ar.Delete("/communities/{id}/members/{userID}", communities.RemoveMember)
		ar.Get("/communities/{id}/ws", communities.Websocket)

		ar.Get("/invites", invites.List)
		ar.Post("/invites", invites.Create)
		ar.Patch("/invites/{communityID}", invites.Respond)

		ar.Get("/trains", trains.List)
		ar.Post("/trains", trains.Create)
		ar.Patch("/trains/{id}", trains.Update)
		ar.Delete("/trains/{id}", trains.Delete)
		ar.Post("/trains/{id}/claim", trains.Claim)
		ar.Post("/trains/{id}/unclaim", trains.Unclaim)
		ar.Post("/trains/{id}/reassign", trains.Reassign)
	})

	return r
}

func rateLimitMiddleware(limiter *ratelimit.Limiter, m *metrics.Metrics) func(http.Handler) http.Handler {
	if m == nil {
		return ratelimit.Middleware(limiter)
	}
	return ratelimit.Middleware(limiter, func() {
		m.RateLimitRejectionsTotal.Inc()
	})
}

// slogRequestLogger is a simple structured logging middleware using slog.
func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", ww.BytesWritten(),
		)
	})
}

// metricsMiddleware records request counts and latencies, labelled by
// the chi route pattern rather than the raw path so train and
// community IDs do not explode the label space.
func metricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			pattern := chi.RouteContext(r.Context()).RoutePattern()
			if pattern == "" {
				pattern = "unmatched"
			}
			m.HTTPRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(ww.Status())).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
		})
	}
}
