package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	ActionsTriggered = prometheus.NewCounter(prometheus.CounterOpts{Name: "tms_actions_triggered_total", Help: "Customer-lifecycle actions triggered"})
	ActionFailures   = prometheus.NewCounter(prometheus.CounterOpts{Name: "tms_action_failures_total", Help: "Triggered actions that ended FAILED"})
	CacheHits        = prometheus.NewCounter(prometheus.CounterOpts{Name: "tms_appstatus_cache_hits_total", Help: "App-status cache hits"})
	CacheMisses      = prometheus.NewCounter(prometheus.CounterOpts{Name: "tms_appstatus_cache_misses_total", Help: "App-status cache misses"})
	CacheSweepDrops  = prometheus.NewCounter(prometheus.CounterOpts{Name: "tms_appstatus_cache_swept_total", Help: "Cache entries removed by expiry sweeps"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "tms_rate_limit_rejects_total", Help: "Requests rejected by the rate limiter"})
	SessionsActive   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "tms_sessions_active", Help: "Logged-in sessions (best-effort; idle expiry is not observed)"})
	UpstreamDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tms_upstream_call_seconds",
		Help:    "Outbound API call duration",
		Buckets: prometheus.DefBuckets,
	})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			ActionsTriggered,
			ActionFailures,
			CacheHits,
			CacheMisses,
			CacheSweepDrops,
			RateLimitRejects,
			SessionsActive,
			UpstreamDuration,
		)
	})
	return promhttp.Handler()
}
