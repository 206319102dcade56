package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bookingcore"

var (
	OrderAPIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "order_api_requests_total", Help: "Calls to the upstream order API by operation and outcome"},
		[]string{"operation", "outcome"},
	)
	OrderAPIRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "order_api_retries_total", Help: "Retried upstream order API attempts by reason"},
		[]string{"operation", "reason"},
	)
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Name: "circuit_breaker_state", Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)"},
		[]string{"name"},
	)

	StoreRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "store_retries_total", Help: "Retried store operations by operation type and error class"},
		[]string{"operation", "class"},
	)
	OptimisticConflicts = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "optimistic_lock_conflicts_total", Help: "Conditional updates that lost a version race"},
	)

	BookingRequestsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "booking_requests_processed_total", Help: "Matcher invocations by outcome"},
		[]string{"outcome"},
	)
	BookingRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{Namespace: namespace, Name: "booking_request_duration_seconds", Help: "Matcher invocation latency", Buckets: prometheus.DefBuckets},
	)
	PaymentCaptureFailures = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "payment_capture_failures_total", Help: "Captures that failed after a booking was committed"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
