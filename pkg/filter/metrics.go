package filter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_cache_writes_total",
		Help: "Cache writes attempted after a backend round trip, by result",
	}, []string{"result"}) // "stored", "failed"

	cacheWritesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_cache_writes_skipped_total",
		Help: "Responses delivered but not cached, by reason",
	}, []string{"reason"})

	cacheCoalescedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_cache_coalesced_total",
		Help: "Requests served from a concurrent identical request's record",
	})

	filterFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_filter_failures_total",
		Help: "Requests failed or degraded by the cache filter, by kind",
	}, []string{"kind"}) // "lookup", "corruption", "write"
)

// Skip reasons.
const (
	skipClientGone   = "client_gone"
	skipIncomplete   = "incomplete"
	skipTooLarge     = "too_large"
	skipNotCacheable = "not_cacheable"
	skipHead         = "head"
)
