package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by validity (fresh, stale, raw)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_cache_hits_total",
			Help: "Total number of cache hits by validity",
		},
		[]string{"validity"},
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gate_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CachedErrorHits tracks reads answered by a cached error entry
	CachedErrorHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_cache_error_hits_total",
			Help: "Total number of reads answered by a cached error",
		},
		[]string{"kind"},
	)

	// DedupJoins tracks callers that joined an already in-flight fetch
	DedupJoins = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gate_cache_dedup_joins_total",
			Help: "Total number of callers deduplicated onto an in-flight fetch",
		},
	)

	// CorruptedEntries tracks corrupt envelopes found and self-healed
	CorruptedEntries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gate_cache_corrupted_total",
			Help: "Total number of corrupt cache entries deleted and repaired",
		},
	)

	// BackgroundRefreshes tracks stale-while-revalidate refreshes launched
	BackgroundRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gate_cache_background_refreshes_total",
			Help: "Total number of background refreshes for stale entries",
		},
	)

	// InFlight tracks the current size of the single-flight map
	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gate_cache_inflight",
			Help: "Current number of in-flight deduplicated fetches",
		},
	)

	// CacheErrors tracks adapter operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_cache_errors_total",
			Help: "Total number of cache adapter operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
