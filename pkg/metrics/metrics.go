// Package metrics exposes the gateway's Prometheus metrics. The metrics
// themselves are defined with promauto in the packages that record them
// (cache, filter, gateway); this package serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every gateway metric is registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer Handler reads from.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Store Metrics (pkg/cache):
//   - gateway_cache_hits_total{store} (Counter): Lookups that found a record
//   - gateway_cache_misses_total{store} (Counter): Lookups that found nothing
//   - gateway_cache_stored_bytes_total{store} (Counter): Serialized bytes written
//   - gateway_cache_errors_total{store, operation} (Counter): Store operation errors
//
// Filter Metrics (pkg/filter):
//   - gateway_cache_writes_total{result} (Counter): Writes after a backend round trip (stored, failed)
//   - gateway_cache_writes_skipped_total{reason} (Counter): Delivered but not cached
//     (client_gone, incomplete, too_large, not_cacheable, head)
//   - gateway_cache_coalesced_total (Counter): Requests served from a concurrent request's record
//   - gateway_filter_failures_total{kind} (Counter): lookup, corruption, write
//
// Upstream Metrics (pkg/gateway):
//   - gateway_upstream_requests_total{route, status} (Counter): Upstream responses by route
//   - gateway_upstream_duration_seconds{route} (Histogram): Upstream round trip duration
//   - gateway_upstream_errors_total{route, class} (Counter): Failed attempts by error class
//   - gateway_upstream_retries_total{route, error_class} (Counter): Retry attempts
//   - gateway_upstream_retry_backoff_seconds{error_class} (Histogram): Backoff before each retry
//   - gateway_upstream_retry_exhausted_total{route} (Counter): Requests that ran out of attempts
//   - gateway_breaker_state{route} (Gauge): 0 closed, 1 half-open, 2 open
//   - gateway_breaker_rejections_total{route} (Counter): Requests refused by an open breaker
//   - gateway_fallbacks_total{route} (Counter): Fallback responses served
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(gateway_cache_hits_total[5m])) /
//   (sum(rate(gateway_cache_hits_total[5m])) + sum(rate(gateway_cache_misses_total[5m])))
//
//   # Store Outages
//   rate(gateway_filter_failures_total{kind="lookup"}[5m])
//
//   # Fallback Rate per Route
//   rate(gateway_fallbacks_total[5m]) / rate(gateway_upstream_requests_total[5m])
//
//   # Open Breakers
//   gateway_breaker_state == 2
//
//   # P95 Upstream Latency
//   histogram_quantile(0.95, rate(gateway_upstream_duration_seconds_bucket[5m]))
