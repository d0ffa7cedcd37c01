package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_upstream_requests_total",
		Help: "Upstream round trips by route and HTTP status (0 = no response)",
	}, []string{"route", "status"})

	upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_upstream_duration_seconds",
		Help:    "Upstream round trip duration by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_upstream_errors_total",
		Help: "Failed upstream attempts by route and error class",
	}, []string{"route", "class"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_upstream_retries_total",
		Help: "Upstream retry attempts by route and error class",
	}, []string{"route", "error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_upstream_retry_backoff_seconds",
		Help:    "Backoff before upstream retries by error class",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_upstream_retry_exhausted_total",
		Help: "Requests that failed every attempt, by route",
	}, []string{"route"})

	fallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_fallbacks_total",
		Help: "Fallback responses served by route",
	}, []string{"route"})
)
