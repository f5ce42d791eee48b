package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Hits counts cache hits.
	Hits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_cache_hits_total",
		Help: "Total number of CRM response cache hits",
	})

	// Misses counts cache misses.
	Misses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_cache_misses_total",
		Help: "Total number of CRM response cache misses",
	})

	// StoredBytes counts bytes written to the cache.
	StoredBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_cache_stored_bytes_total",
		Help: "Total bytes of CRM responses written to the cache",
	})

	// ConditionalRequestsSent counts revalidation requests.
	ConditionalRequestsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_cache_conditional_requests_total",
		Help: "Total number of conditional requests sent for cached CRM responses",
	})

	// NotModifiedResponses counts 304 answers served from cache.
	NotModifiedResponses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_cache_not_modified_total",
		Help: "Total number of 304 Not Modified responses served from cache",
	})

	// Invalidations counts entries removed after writes.
	Invalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_cache_invalidated_entries_total",
		Help: "Total number of cache entries removed after module writes",
	}, []string{"module"})

	// Errors counts failed cache operations.
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_cache_errors_total",
		Help: "Total number of cache operation errors",
	}, []string{"operation"}) // "get", "set", "delete", "invalidate"
)
