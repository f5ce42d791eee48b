// Package metrics exposes the Prometheus registry used by the CRM client.
// Collectors are defined with promauto in their own packages (dispatcher,
// batch, pagination, transport, cache, ratelimit) to keep them next to the
// code that updates them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every collector is added to via promauto.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Dispatcher Metrics (pkg/dispatcher):
//   - crm_dispatcher_jobs_total{api_method, request_method, outcome} (Counter): Completed jobs
//   - crm_dispatcher_running_jobs (Gauge): Jobs currently executing
//   - crm_dispatcher_pending_jobs (Gauge): Jobs waiting for a pool slot
//   - crm_dispatcher_job_duration_seconds (Histogram): Executor call duration
//
// Batch Metrics (pkg/batch):
//   - crm_batch_chunks_total{operation, result} (Counter): Chunks by result
//   - crm_batch_outcomes_total{operation, outcome} (Counter): Records classified
//
// Pagination Metrics (pkg/pagination):
//   - crm_scan_pages_total{result} (Counter): Pages by result (data, empty, skipped, error)
//   - crm_scan_skipped_pages_total (Counter): Pages skipped past the low-water-mark
//
// Request Metrics (pkg/transport):
//   - crm_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - crm_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - crm_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Cache Metrics (pkg/cache):
//   - crm_cache_hits_total / crm_cache_misses_total (Counter)
//   - crm_cache_stored_bytes_total (Counter): Bytes written to Redis
//   - crm_cache_conditional_requests_total (Counter): Revalidations sent
//   - crm_cache_not_modified_total (Counter): 304 responses served from cache
//   - crm_cache_invalidated_entries_total{module} (Counter): Entries removed after writes
//   - crm_cache_errors_total{operation} (Counter)
//
// Credit Metrics (pkg/ratelimit):
//   - crm_rate_limit_remaining (Gauge): Last reported API credits
//   - crm_rate_limit_blocks_total (Counter): Requests blocked at critical credits
//   - crm_rate_limit_throttles_total (Counter): Requests delayed at low credits
//
// Example Prometheus Queries:
//
//	# Chunk failure ratio
//	sum(rate(crm_batch_outcomes_total{outcome="fail"}[5m])) /
//	sum(rate(crm_batch_outcomes_total[5m]))
//
//	# Pool saturation
//	crm_dispatcher_pending_jobs > 0
//
//	# P95 request latency
//	histogram_quantile(0.95, rate(crm_request_duration_seconds_bucket[5m]))
