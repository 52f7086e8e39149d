package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Client-side session metrics.
var (
	RefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authkit_refresh_total",
			Help: "Token refresh attempts by outcome.",
		},
		[]string{"outcome"},
	)

	RefreshCoalescedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authkit_refresh_coalesced_total",
		Help: "Refresh callers that shared an already in-flight refresh.",
	})

	RefreshDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "authkit_refresh_duration_seconds",
		Help:    "Token refresh network call latency in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	ReplayTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authkit_request_replays_total",
		Help: "Requests replayed after a 401 triggered a refresh.",
	})

	LoginTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authkit_login_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	SessionExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authkit_session_expired_total",
		Help: "Forced logouts after an unrecoverable 401.",
	})
)

// Init registers the metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		RefreshTotal,
		RefreshCoalescedTotal,
		RefreshDuration,
		ReplayTotal,
		LoginTotal,
		SessionExpiredTotal,
	)
}

// Handler exposes the metrics for scraping from long-lived deployments.
func Handler() http.Handler {
	return promhttp.Handler()
}
