package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON response for the metrics endpoint.
type Summary struct {
	HTTP      httpSummary   `json:"http"`
	Auth      authInfo      `json:"auth"`
	Claims    claimInfo     `json:"claims"`
	Realtime  realtimeInfo  `json:"realtime"`
	RateLimit rateLimitInfo `json:"rateLimit"`
	DB        dbInfo        `json:"db"`
	Server    serverInfo    `json:"server"`
}

type httpSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
	P50Latency    float64 `json:"p50Latency"`
	P95Latency    float64 `json:"p95Latency"`
	P99Latency    float64 `json:"p99Latency"`
}

type authInfo struct {
	Failures       float64 `json:"failures"`
	Successes      float64 `json:"successes"`
	SessionsIssued float64 `json:"sessionsIssued"`
	SessionsPurged float64 `json:"sessionsPurged"`
}

type claimInfo struct {
	Granted   float64 `json:"granted"`
	Conflicts float64 `json:"conflicts"`
}

type realtimeInfo struct {
	Clients float64 `json:"clients"`
	Events  float64 `json:"events"`
}

type rateLimitInfo struct {
	Rejections float64 `json:"rejections"`
}

type dbInfo struct {
	TotalConns    float64 `json:"totalConns"`
	IdleConns     float64 `json:"idleConns"`
	AcquiredConns float64 `json:"acquiredConns"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// PoolStats is the subset of pgxpool.Stat surfaced in the summary.
// Supplied by the caller so this package stays free of a pgx dependency.
type PoolStats struct {
	TotalConns    int32
	IdleConns     int32
	AcquiredConns int32
}

// Handler returns an http.HandlerFunc that serves a live JSON summary
// of the gathered metrics. statsFn may be nil.
func (m *Metrics) Handler(statsFn func() PoolStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		families, err := m.registry.Gather()
		if err != nil {
			http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
			return
		}

		fam := make(map[string]*dto.MetricFamily, len(families))
		for _, f := range families {
			fam[f.GetName()] = f
		}

		summary := Summary{
			HTTP: httpSummary{
				TotalRequests: sumCounter(fam["myrail_http_requests_total"]),
				ErrorRate:     computeErrorRate(fam["myrail_http_requests_total"]),
				P50Latency:    histogramPercentile(fam["myrail_http_request_duration_seconds"], 0.50),
				P95Latency:    histogramPercentile(fam["myrail_http_request_duration_seconds"], 0.95),
				P99Latency:    histogramPercentile(fam["myrail_http_request_duration_seconds"], 0.99),
			},
			Auth: authInfo{
				Failures:       sumCounter(fam["myrail_auth_failures_total"]),
				Successes:      sumCounter(fam["myrail_auth_successes_total"]),
				SessionsIssued: sumCounter(fam["myrail_sessions_issued_total"]),
				SessionsPurged: sumCounter(fam["myrail_sessions_purged_total"]),
			},
			Claims: claimInfo{
				Granted:   counterWithLabel(fam["myrail_claim_attempts_total"], "outcome", "granted"),
				Conflicts: counterWithLabel(fam["myrail_claim_attempts_total"], "outcome", "conflict"),
			},
			Realtime: realtimeInfo{
				Clients: gaugeValue(fam["myrail_realtime_clients"]),
				Events:  sumCounter(fam["myrail_realtime_events_total"]),
			},
			RateLimit: rateLimitInfo{
				Rejections: sumCounter(fam["myrail_ratelimit_rejections_total"]),
			},
			Server: serverInfo{
				StartTime: gaugeValue(fam["myrail_server_start_time_seconds"]),
			},
		}
		if summary.Server.StartTime > 0 {
			summary.Server.UptimeSeconds = float64(time.Now().Unix()) - summary.Server.StartTime
		}
		if statsFn != nil {
			st := statsFn()
			summary.DB = dbInfo{
				TotalConns:    float64(st.TotalConns),
				IdleConns:     float64(st.IdleConns),
				AcquiredConns: float64(st.AcquiredConns),
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(summary)
	}
}

func sumCounter(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	for _, m := range f.GetMetric() {
		if m.GetGauge() != nil {
			return m.GetGauge().GetValue()
		}
	}
	return 0
}

func counterWithLabel(f *dto.MetricFamily, labelName, labelValue string) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == labelName && lp.GetValue() == labelValue {
				if m.GetCounter() != nil {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}

func computeErrorRate(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total, errors float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		v := m.GetCounter().GetValue()
		total += v
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "status_code" {
				code := lp.GetValue()
				if len(code) > 0 && code[0] >= '4' {
					errors += v
				}
			}
		}
	}
	if total == 0 {
		return 0
	}
	return errors / total
}

// histogramPercentile computes a percentile from aggregated histogram
// buckets using linear interpolation.
func histogramPercentile(f *dto.MetricFamily, q float64) float64 {
	if f == nil {
		return 0
	}

	type bucket struct {
		upperBound      float64
		cumulativeCount uint64
	}
	var totalCount uint64
	bucketMap := make(map[float64]uint64)

	for _, m := range f.GetMetric() {
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		totalCount += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			bucketMap[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}

	if totalCount == 0 {
		return 0
	}

	buckets := make([]bucket, 0, len(bucketMap))
	for ub, count := range bucketMap {
		buckets = append(buckets, bucket{upperBound: ub, cumulativeCount: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].upperBound < buckets[j].upperBound
	})

	rank := q * float64(totalCount)

	var prevBound float64
	var prevCount uint64
	for _, b := range buckets {
		if math.IsInf(b.upperBound, 1) {
			break
		}
		if float64(b.cumulativeCount) >= rank {
			// Linear interpolation within this bucket.
			bucketCount := b.cumulativeCount - prevCount
			if bucketCount == 0 {
				return b.upperBound
			}
			fraction := (rank - float64(prevCount)) / float64(bucketCount)
			return prevBound + fraction*(b.upperBound-prevBound)
		}
		prevBound = b.upperBound
		prevCount = b.cumulativeCount
	}

	// If we didn't find it, return the last finite bucket upper bound.
	if len(buckets) > 0 {
		for i := len(buckets) - 1; i >= 0; i-- {
			if !math.IsInf(buckets[i].upperBound, 1) {
				return buckets[i].upperBound
			}
		}
	}
	return 0
}
