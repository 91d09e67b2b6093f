// Package observability provides Prometheus metrics, OpenTelemetry tracing
// setup and HTTP middleware for monitoring localresp.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for local inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts HTTP requests by method, route and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localresp_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "localresp_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "route"},
	)

	// StreamingConnections tracks the number of open SSE streams.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "localresp_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// BackendRequestsTotal counts inference calls by backend, model and
	// outcome (ok, unavailable, timeout, cancelled).
	BackendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localresp_backend_requests_total",
			Help: "Backend requests",
		},
		[]string{"backend", "model", "result"},
	)

	// BackendLatency records the time until the backend produced its first
	// event.
	BackendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "localresp_backend_latency_seconds",
			Help:    "Backend time to first token",
			Buckets: LLMBuckets,
		},
		[]string{"backend", "model"},
	)

	// BackendTokensTotal counts backend-reported tokens by direction.
	BackendTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localresp_backend_tokens_total",
			Help: "Token count",
		},
		[]string{"backend", "model", "direction"},
	)

	// StreamEventsTotal counts emitted stream events by type.
	StreamEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localresp_stream_events_total",
			Help: "Stream events emitted",
		},
		[]string{"type"},
	)

	// ToolCallParseFailuresTotal counts function calls whose arguments were
	// not valid JSON.
	ToolCallParseFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "localresp_tool_call_parse_failures_total",
			Help: "Function calls with malformed arguments",
		},
	)

	// StoreFailuresTotal counts failed response store operations.
	StoreFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localresp_store_failures_total",
			Help: "Response store failures",
		},
		[]string{"operation"},
	)

	// WebSearchQueriesTotal counts web_search queries by search engine and
	// outcome (success, cached, error).
	WebSearchQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localresp_websearch_queries_total",
			Help: "Web search queries",
		},
		[]string{"backend", "status"},
	)

	// WebSearchDuration records the latency of uncached web searches.
	WebSearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "localresp_websearch_duration_seconds",
			Help:    "Web search latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"backend"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "localresp_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		BackendRequestsTotal,
		BackendLatency,
		BackendTokensTotal,
		StreamEventsTotal,
		ToolCallParseFailuresTotal,
		StoreFailuresTotal,
		WebSearchQueriesTotal,
		WebSearchDuration,
		RateLimitRejectedTotal,
	)
}
