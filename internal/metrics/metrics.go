package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for the MyRail service.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Auth and session metrics.
	AuthFailuresTotal    prometheus.Counter
	AuthSuccessesTotal   prometheus.Counter
	SessionsIssuedTotal  prometheus.Counter
	SessionsPurgedTotal  prometheus.Counter
	OAuthExchangesTotal  *prometheus.CounterVec

	// Claim arbitration metrics.
	ClaimAttemptsTotal *prometheus.CounterVec

	// Rate limiting.
	RateLimitRejectionsTotal prometheus.Counter

	// Realtime hub.
	RealtimeClients     prometheus.Gauge
	RealtimeEventsTotal *prometheus.CounterVec

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "myrail_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "myrail_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		AuthFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "myrail_auth_failures_total",
			Help: "Total number of failed session validations.",
		}),

		AuthSuccessesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "myrail_auth_successes_total",
			Help: "Total number of successful session validations.",
		}),

		SessionsIssuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "myrail_sessions_issued_total",
			Help: "Total number of sessions issued after OAuth login.",
		}),

		SessionsPurgedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "myrail_sessions_purged_total",
			Help: "Total number of expired sessions removed by cleanup.",
		}),

		OAuthExchangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "myrail_oauth_exchanges_total",
			Help: "Total number of Discord OAuth code exchanges.",
		}, []string{"status"}),

		ClaimAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "myrail_claim_attempts_total",
			Help: "Total number of crew slot claim attempts.",
		}, []string{"outcome"}),

		RateLimitRejectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "myrail_ratelimit_rejections_total",
			Help: "Total number of rate limit rejections.",
		}),

		RealtimeClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "myrail_realtime_clients",
			Help: "Number of currently connected realtime clients.",
		}),

		RealtimeEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "myrail_realtime_events_total",
			Help: "Total number of realtime events published.",
		}, []string{"type"}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "myrail_server_start_time_seconds",
			Help: "Unix timestamp of server start.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthFailuresTotal,
		m.AuthSuccessesTotal,
		m.SessionsIssuedTotal,
		m.SessionsPurgedTotal,
		m.OAuthExchangesTotal,
		m.ClaimAttemptsTotal,
		m.RateLimitRejectionsTotal,
		m.RealtimeClients,
		m.RealtimeEventsTotal,
		m.ServerStartTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	return m
}

// IncAuthSuccess increments the successful session validation counter.
func (m *Metrics) IncAuthSuccess() {
	m.AuthSuccessesTotal.Inc()
}

// IncAuthFailure increments the failed session validation counter.
func (m *Metrics) IncAuthFailure() {
	m.AuthFailuresTotal.Inc()
}

// IncRealtimeEvent increments the published event counter for a type.
func (m *Metrics) IncRealtimeEvent(eventType string) {
	m.RealtimeEventsTotal.WithLabelValues(eventType).Inc()
}

// SetRealtimeClients records the current connected client count.
func (m *Metrics) SetRealtimeClients(n int) {
	m.RealtimeClients.Set(float64(n))
}

// RegisterDBPoolCollector exposes connection pool gauges on the
// registry. Call once after the pool is created.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}
