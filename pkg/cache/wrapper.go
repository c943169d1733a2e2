package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	// defaultMaxInFlight bounds the single-flight map. Beyond it, fetches
	// execute directly without deduplication so memory stays bounded under
	// pathological fan-out.
	defaultMaxInFlight = 512

	// refreshTimeout bounds a detached background refresh.
	refreshTimeout = 30 * time.Second
)

// FetchFunc produces the value for a key from the upstream.
type FetchFunc func(ctx context.Context) (json.RawMessage, error)

// flight is a single in-flight fetch shared by deduplicated callers.
// data and err are written exactly once, before done is closed.
type flight struct {
	done chan struct{}
	data json.RawMessage
	err  error
}

// Entry is the read-time view of a stored envelope.
type Entry struct {
	// Data is the cached value. Nil when Err is set.
	Data json.RawMessage

	// Err is the remembered failure for error entries.
	Err *CachedError

	// Stale marks an entry past its logical TTL but still within the
	// stale-while-revalidate window.
	Stale bool

	// Raw marks a legacy value written by another writer, accepted as-is.
	Raw bool

	StoredAt time.Time
	TTL      time.Duration
}

// Stats is an observability snapshot of the wrapper.
type Stats struct {
	Hits                uint64 `json:"hits"`
	StaleHits           uint64 `json:"stale_hits"`
	Misses              uint64 `json:"misses"`
	ErrorHits           uint64 `json:"error_hits"`
	DedupJoins          uint64 `json:"dedup_joins"`
	DedupOverflows      uint64 `json:"dedup_overflows"`
	CorruptedEntries    uint64 `json:"corrupted_entries"`
	BackgroundRefreshes uint64 `json:"background_refreshes"`
	InFlight            int    `json:"in_flight"`
}

// Wrapper owns the envelope format, the staleness policy, the error-as-
// cached-value policy, and the in-flight map used for single-flight
// deduplication. All adapter failures are recovered locally: a cache outage
// degrades to "always fetch".
type Wrapper struct {
	adapter     Adapter
	logger      zerolog.Logger
	maxInFlight int

	mu       sync.Mutex
	inflight map[string]*flight

	hits       atomic.Uint64
	staleHits  atomic.Uint64
	misses     atomic.Uint64
	errorHits  atomic.Uint64
	dedupJoins atomic.Uint64
	overflows  atomic.Uint64
	corrupted  atomic.Uint64
	refreshes  atomic.Uint64
}

// Option configures a Wrapper.
type Option func(*Wrapper)

// WithLogger sets the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Wrapper) { w.logger = logger }
}

// WithMaxInFlight overrides the in-flight map capacity.
func WithMaxInFlight(n int) Option {
	return func(w *Wrapper) {
		if n > 0 {
			w.maxInFlight = n
		}
	}
}

// NewWrapper creates a cache wrapper over the given adapter.
func NewWrapper(adapter Adapter, opts ...Option) *Wrapper {
	if adapter == nil {
		panic("cache adapter cannot be nil")
	}
	w := &Wrapper{
		adapter:     adapter,
		logger:      zerolog.Nop(),
		maxInFlight: defaultMaxInFlight,
		inflight:    make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Get returns the cached value for key, or ok=false on a miss, a cached
// error, or a corrupt entry. Stale entries still return their data; use
// GetEntry to distinguish fresh from stale.
func (w *Wrapper) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	entry, ok := w.lookup(ctx, key)
	if !ok || entry.Err != nil {
		return nil, false
	}
	return entry.Data, true
}

// GetEntry is like Get but returns the full read-time view, including the
// staleness flag, and surfaces cached errors to the caller instead of
// swallowing them.
func (w *Wrapper) GetEntry(ctx context.Context, key string) (*Entry, bool) {
	return w.lookup(ctx, key)
}

// Set wraps value in an envelope and stores it. A nil value is rejected as
// a logged no-op: silently caching an absent fetch result hides bugs.
func (w *Wrapper) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if value == nil {
		w.logger.Warn().Str("key", key).Msg("Refusing to cache nil value")
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		w.logger.Warn().Err(err).Str("key", key).Msg("Failed to marshal value for cache")
		return
	}
	w.store(ctx, key, newDataEnvelope(data, ttl, time.Now()), ttl)
}

// SetError stores an error envelope under the fixed per-kind TTL, so a
// failing upstream is not re-fetched on every request.
func (w *Wrapper) SetError(ctx context.Context, key string, kind ErrorKind, message string) {
	w.store(ctx, key, newErrorEnvelope(kind, message, time.Now()), KindTTL(kind))
}

// Del removes key. Best-effort: failures are logged, never returned.
func (w *Wrapper) Del(ctx context.Context, key string) {
	if err := w.adapter.Del(ctx, key); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		w.logger.Warn().Err(err).Str("key", key).Msg("Cache delete failed")
	}
}

// WrapOption configures a single Wrap call.
type WrapOption func(*wrapOptions)

type wrapOptions struct {
	allowStale bool
}

// WithoutStale disables stale-while-revalidate for this call: a stale entry
// is treated as a miss and the caller waits for fresh data.
func WithoutStale() WrapOption {
	return func(o *wrapOptions) { o.allowStale = false }
}

// Wrap is the composed read-through operation.
//
// Cached errors surface immediately as *CachedError. Fresh entries return
// their data. Stale entries return their data while a deduplicated
// background refresh runs. Misses collapse concurrent identical calls into
// one upstream fetch via the in-flight map; when that map is at capacity
// the fetch executes directly, bypassing deduplication.
func (w *Wrapper) Wrap(ctx context.Context, key string, fetch FetchFunc, ttl time.Duration, opts ...WrapOption) (json.RawMessage, error) {
	options := wrapOptions{allowStale: true}
	for _, opt := range opts {
		opt(&options)
	}

	if entry, ok := w.lookup(ctx, key); ok {
		if entry.Err != nil {
			return nil, entry.Err
		}
		if !entry.Stale {
			return entry.Data, nil
		}
		if options.allowStale {
			w.refresh(key, fetch, ttl)
			return entry.Data, nil
		}
	}

	w.mu.Lock()
	if existing, ok := w.inflight[key]; ok {
		w.mu.Unlock()
		w.dedupJoins.Add(1)
		DedupJoins.Inc()
		return w.await(ctx, existing)
	}
	if len(w.inflight) >= w.maxInFlight {
		// Capacity overflow: execute directly without deduplication.
		w.mu.Unlock()
		w.overflows.Add(1)
		w.logger.Warn().Str("key", key).Int("capacity", w.maxInFlight).
			Msg("In-flight map full, bypassing deduplication")
		return w.fetchAndStore(ctx, key, fetch, ttl)
	}
	f := &flight{done: make(chan struct{})}
	w.inflight[key] = f
	InFlight.Set(float64(len(w.inflight)))
	w.mu.Unlock()

	f.data, f.err = w.fetchAndStore(ctx, key, fetch, ttl)
	w.settle(key, f)
	return f.data, f.err
}

// Stats returns a snapshot of the wrapper's counters.
func (w *Wrapper) Stats() Stats {
	w.mu.Lock()
	inflight := len(w.inflight)
	w.mu.Unlock()

	return Stats{
		Hits:                w.hits.Load(),
		StaleHits:           w.staleHits.Load(),
		Misses:              w.misses.Load(),
		ErrorHits:           w.errorHits.Load(),
		DedupJoins:          w.dedupJoins.Load(),
		DedupOverflows:      w.overflows.Load(),
		CorruptedEntries:    w.corrupted.Load(),
		BackgroundRefreshes: w.refreshes.Load(),
		InFlight:            inflight,
	}
}

// await blocks until a shared flight settles or the caller's context ends.
// An abandoning caller leaves the underlying fetch running for the others.
func (w *Wrapper) await(ctx context.Context, f *flight) (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.data, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// settle removes the in-flight entry and wakes the waiters. Removal happens
// on every settlement, success or failure, so no entry is left dangling.
func (w *Wrapper) settle(key string, f *flight) {
	w.mu.Lock()
	delete(w.inflight, key)
	InFlight.Set(float64(len(w.inflight)))
	w.mu.Unlock()
	close(f.done)
}

// refresh launches a detached stale-while-revalidate fetch. The task is
// registered in the in-flight map so a second stale read during the refresh
// does not launch a duplicate; its errors are logged, never propagated.
func (w *Wrapper) refresh(key string, fetch FetchFunc, ttl time.Duration) {
	w.mu.Lock()
	if _, ok := w.inflight[key]; ok || len(w.inflight) >= w.maxInFlight {
		w.mu.Unlock()
		return
	}
	f := &flight{done: make(chan struct{})}
	w.inflight[key] = f
	InFlight.Set(float64(len(w.inflight)))
	w.mu.Unlock()

	w.refreshes.Add(1)
	BackgroundRefreshes.Inc()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()

		f.data, f.err = w.fetchAndStore(ctx, key, fetch, ttl)
		w.settle(key, f)
		if f.err != nil {
			w.logger.Warn().Err(f.err).Str("key", key).Msg("Background refresh failed")
		}
	}()
}

// fetchAndStore runs the fetch and persists its outcome: data under the
// requested TTL, structurally empty data under the short empty-result TTL,
// and failures as error envelopes under their kind's TTL.
func (w *Wrapper) fetchAndStore(ctx context.Context, key string, fetch FetchFunc, ttl time.Duration) (json.RawMessage, error) {
	data, err := fetch(ctx)
	if err != nil {
		var cached *CachedError
		if !errors.As(err, &cached) {
			kind := ClassifyError(err, 0)
			w.SetError(ctx, key, kind, err.Error())
			w.logger.Debug().Str("key", key).Str("kind", string(kind)).
				Msg("Cached fetch failure")
		}
		return nil, err
	}

	if kind, empty := ClassifyResult(data); empty {
		w.store(ctx, key, newDataEnvelope(data, KindTTL(kind), time.Now()), KindTTL(kind))
		return data, nil
	}

	w.store(ctx, key, newDataEnvelope(data, ttl, time.Now()), ttl)
	return data, nil
}

// store encodes and writes an envelope with the over-provisioned physical
// TTL. Failures are logged and recovered; the fetch path must proceed.
func (w *Wrapper) store(ctx context.Context, key string, env *Envelope, ttl time.Duration) {
	raw, err := encodeEnvelope(env)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		w.logger.Warn().Err(err).Str("key", key).Msg("Failed to encode envelope")
		return
	}
	if err := w.adapter.Set(ctx, key, raw, physicalTTL(ttl)); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		w.logger.Warn().Err(err).Str("key", key).Msg("Cache set failed")
	}
}

// lookup reads and decodes one entry, computing validity at read time.
// Corrupt entries self-heal: the key is deleted and replaced by a short-TTL
// CACHE_CORRUPTED marker so a burst of corrupt reads collapses into one
// repair.
func (w *Wrapper) lookup(ctx context.Context, key string) (*Entry, bool) {
	raw, err := w.adapter.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			CacheErrors.WithLabelValues("get").Inc()
			w.logger.Warn().Err(err).Str("key", key).Msg("Cache get failed")
		}
		w.misses.Add(1)
		CacheMisses.Inc()
		return nil, false
	}

	env, legacy, err := decodeEnvelope(raw)
	if err != nil {
		w.heal(ctx, key, err)
		w.misses.Add(1)
		CacheMisses.Inc()
		return nil, false
	}

	if legacy {
		w.hits.Add(1)
		CacheHits.WithLabelValues("raw").Inc()
		return &Entry{Data: raw, Raw: true}, true
	}

	now := time.Now()
	validity := env.Validity(now)
	if validity == ValidityExpired {
		w.misses.Add(1)
		CacheMisses.Inc()
		return nil, false
	}

	if env.IsError() {
		w.errorHits.Add(1)
		CachedErrorHits.WithLabelValues(string(env.ErrorType)).Inc()
		return &Entry{
			Err: &CachedError{
				Key:      key,
				Kind:     env.ErrorType,
				Message:  env.ErrorMessage,
				StoredAt: env.StoredAt,
			},
			Stale:    validity == ValidityStale,
			StoredAt: env.StoredAt,
			TTL:      env.TTL(),
		}, true
	}

	if validity == ValidityStale {
		w.staleHits.Add(1)
		CacheHits.WithLabelValues("stale").Inc()
	} else {
		w.hits.Add(1)
		CacheHits.WithLabelValues("fresh").Inc()
	}

	return &Entry{
		Data:     env.Data,
		Stale:    validity == ValidityStale,
		StoredAt: env.StoredAt,
		TTL:      env.TTL(),
	}, true
}

// heal deletes a corrupt key and leaves a short-TTL marker in its place.
func (w *Wrapper) heal(ctx context.Context, key string, cause error) {
	w.corrupted.Add(1)
	CorruptedEntries.Inc()
	w.logger.Error().Err(cause).Str("key", key).Msg("Corrupt cache entry, self-healing")

	w.Del(ctx, key)
	w.SetError(ctx, key, KindCacheCorrupted, cause.Error())
}
