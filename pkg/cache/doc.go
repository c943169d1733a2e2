// Package cache wraps a key-value adapter with the envelope format used in
// front of the upstream provider.
//
// Every value is persisted inside a self-describing envelope carrying the
// store time and logical TTL. Validity is computed at read time:
//
//   - fresh:   age <= ttl
//   - stale:   ttl < age <= 2*ttl (served while a background refresh runs)
//   - expired: age > 2*ttl (treated as a miss)
//
// Failed fetches are cached too, as error envelopes with fixed per-kind TTLs,
// so a failing upstream is not hammered on every request.
//
// # Basic Usage
//
//	adapter := cache.NewMemoryAdapter()
//	wrapper := cache.NewWrapper(adapter, cache.WithLogger(logger))
//
//	data, err := wrapper.Wrap(ctx, "pg:catalog/movies", fetchFn, 10*time.Minute)
//
// Wrap is the composed read-through operation: it serves fresh data, serves
// stale data while revalidating in the background, collapses concurrent
// identical fetches into a single upstream call, and remembers failures.
//
// # Adapters
//
// Two adapter realizations are provided: an in-process map (MemoryAdapter)
// and a Redis-backed store (RedisAdapter). Both satisfy the same minimal
// get/set/delete contract; the wrapper never depends on anything beyond it.
//
// Adapter failures are always recovered locally and logged. A cache outage
// degrades to "always fetch", never to "always fail".
//
// # Metrics
//
// The wrapper exports Prometheus metrics:
//
//   - gate_cache_hits_total{validity} - Cache hits by validity (fresh, stale)
//   - gate_cache_misses_total - Cache misses
//   - gate_cache_dedup_joins_total - Callers that joined an in-flight fetch
//   - gate_cache_corrupted_total - Corrupt envelopes found and repaired
//   - gate_cache_background_refreshes_total - Stale-while-revalidate refreshes
//   - gate_cache_errors_total{operation} - Adapter operation errors
package cache
