// Package cache stores CRM GET responses in Redis.
//
// Entries are revalidated with conditional requests: a cached entry with an
// ETag or Last-Modified adds If-None-Match or If-Modified-Since to the next
// request, and a 304 answer is served from the stored body. Every write to a
// module invalidates all of that module's entries, since a listing page or
// lookup may contain the written records.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.Key{
//		Module: "Leads",
//		Query:  url.Values{"page": []string{"1"}, "per_page": []string{"200"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the CRM
//	}
//
// # Conditional Requests
//
//	if cache.ShouldMakeConditionalRequest(entry) {
//		cache.AddConditionalHeaders(req, entry)
//	}
//
// # Invalidation
//
//	removed, err := manager.InvalidateModule(ctx, "Leads")
//
// # Metrics
//
//   - crm_cache_hits_total, crm_cache_misses_total
//   - crm_cache_stored_bytes_total
//   - crm_cache_conditional_requests_total, crm_cache_not_modified_total
//   - crm_cache_invalidated_entries_total{module}
//   - crm_cache_errors_total{operation}
package cache
