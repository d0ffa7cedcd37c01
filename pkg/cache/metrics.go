package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by store ("redis", "sqlite", "memory")
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_hits_total",
			Help: "Total number of response cache hits",
		},
		[]string{"store"},
	)

	// CacheMisses tracks cache misses by store
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_misses_total",
			Help: "Total number of response cache misses",
		},
		[]string{"store"},
	)

	// StoredBytes tracks the bytes written to the store by store
	StoredBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_stored_bytes_total",
			Help: "Total bytes of serialized records written to the cache store",
		},
		[]string{"store"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_errors_total",
			Help: "Total number of cache store operation errors",
		},
		[]string{"store", "operation"}, // "get", "set", "delete", "ping"
	)
)
