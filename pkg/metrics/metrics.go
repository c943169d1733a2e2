// Package metrics documents the Prometheus metrics exported by providergate.
// All metrics are defined in their respective packages (cache, throttle,
// breaker, ratelimit, client) via promauto to maintain modularity and avoid circular
// dependencies; this package is the reference index.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by providergate.
// All metrics are automatically registered via promauto in their packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - gate_cache_hits_total{validity} (Counter): Hits by validity (fresh, stale, raw)
//   - gate_cache_misses_total (Counter): Misses, including expired and corrupt reads
//   - gate_cache_error_hits_total{kind} (Counter): Reads answered by a cached error
//   - gate_cache_dedup_joins_total (Counter): Callers collapsed onto an in-flight fetch
//   - gate_cache_corrupted_total (Counter): Corrupt envelopes deleted and repaired
//   - gate_cache_background_refreshes_total (Counter): Stale-while-revalidate refreshes
//   - gate_cache_inflight (Gauge): Current single-flight map size
//   - gate_cache_errors_total{operation} (Counter): Adapter operation errors
//
// Throttle Metrics (pkg/throttle):
//   - gate_throttle_grants_total{type} (Counter): Grants by type (immediate, queued)
//   - gate_throttle_rejections_total{reason} (Counter): Rejections (timeout, queue_full, destroyed)
//   - gate_throttle_pauses_total (Counter): Upstream-signaled rate-limit pauses
//   - gate_throttle_queue_depth (Gauge): Current waiter queue depth
//   - gate_throttle_tokens (Gauge): Current token level
//   - gate_throttle_wait_seconds (Histogram): Time queued callers waited
//
// Rate Limit State Metrics (pkg/ratelimit):
//   - gate_ratelimit_shared_pauses_total (Counter): Upstream pauses recorded in shared state
//   - gate_ratelimit_pause_restores_total (Counter): Active pauses restored at startup
//
// Breaker Metrics (pkg/breaker):
//   - gate_breaker_trips_total (Counter): Times the breaker opened
//   - gate_breaker_open (Gauge): Current state (1 open, 0 closed)
//   - gate_breaker_failures_total (Counter): Failures recorded
//
// Fetch Metrics (pkg/client):
//   - gate_fetch_requests_total{endpoint, outcome} (Counter): Fetches by outcome
//   - gate_fetch_duration_seconds{endpoint} (Histogram): End-to-end fetch duration
//   - gate_fetch_errors_total{class} (Counter): Upstream errors by class
//   - gate_fetch_retries_total{error_class} (Counter): Retry attempts
//   - gate_fetch_retry_backoff_seconds{error_class} (Histogram): Backoff durations
//   - gate_fetch_retry_exhausted_total{error_class} (Counter): Exhausted retries
//   - gate_breaker_rejects_total (Counter): Fetches rejected while the breaker was open
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(gate_cache_hits_total[5m])) /
//   (sum(rate(gate_cache_hits_total[5m])) + sum(rate(gate_cache_misses_total[5m])))
//
//   # Share of requests served stale
//   rate(gate_cache_hits_total{validity="stale"}[5m])
//
//   # Throttle pressure
//   gate_throttle_queue_depth
//
//   # Breaker state
//   gate_breaker_open
//
//   # P95 Fetch Latency
//   histogram_quantile(0.95, rate(gate_fetch_duration_seconds_bucket[5m]))
