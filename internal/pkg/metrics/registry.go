package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Database/Repository Metrics
var (
	// DBOperations tracks total database operations
	DBOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connections_db_operations_total",
			Help: "Total database operations by repository, operation, and status",
		},
		[]string{"repo", "operation", "status"},
	)

	// DBDuration tracks database operation latency
	DBDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "connections_db_operation_duration_ms",
			Help:                            "Database operation duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"repo", "operation"},
	)

	// DBRowsAffected tracks rows affected by write operations
	DBRowsAffected = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "connections_db_rows_affected",
			Help:                            "Number of rows affected by database write operations",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"repo", "operation"},
	)

	// DBErrors tracks database errors by type
	DBErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connections_db_errors_total",
			Help: "Total database errors by repository, operation, and error type",
		},
		[]string{"repo", "operation", "error_type"},
	)
)

// OAuth Flow Metrics
var (
	// OAuthFlows tracks authorize/callback legs by provider and outcome
	OAuthFlows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connections_oauth_flows_total",
			Help: "Total OAuth flow legs by provider, leg, and status",
		},
		[]string{"provider", "leg", "status"},
	)

	// StateFallbacks tracks callbacks recovered via external-ID lookup after
	// a missing or expired state token
	StateFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connections_state_fallbacks_total",
			Help: "Total callback state-token fallbacks by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)
)

// Provider API Metrics
var (
	// ProviderAPICalls tracks outbound calls to provider APIs
	ProviderAPICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connections_provider_api_calls_total",
			Help: "Total provider API calls by provider, endpoint, and status",
		},
		[]string{"provider", "endpoint", "status"},
	)

	// ProviderAPIDuration tracks provider API call latency
	ProviderAPIDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "connections_provider_api_duration_ms",
			Help:                            "Provider API call duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"provider", "endpoint"},
	)
)

// HTTP Metrics
var (
	// HTTPRequests tracks HTTP requests by route and status code
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connections_http_requests_total",
			Help: "Total HTTP requests by method, route, and status code",
		},
		[]string{"method", "route", "code"},
	)

	// HTTPDuration tracks HTTP request latency
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "connections_http_request_duration_ms",
			Help:                            "HTTP request duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"method", "route"},
	)
)
