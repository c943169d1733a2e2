// Package breaker implements the circuit breaker guarding the upstream
// provider.
//
// The breaker counts failures in a trailing window and opens once the
// threshold is reached. While open, callers fail fast without touching the
// transport. The breaker self-closes when the cooldown elapses; no separate
// tick is needed because expiry is checked as a side effect of IsOpen. A
// single recorded success fully resets the failure history.
//
// Which failures count toward tripping is the orchestrator's decision; the
// breaker itself is a domain-free failure-rate tracker.
package breaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	breakerTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gate_breaker_trips_total",
		Help: "Total number of times the circuit breaker opened",
	})

	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gate_breaker_open",
		Help: "Whether the circuit breaker is currently open (1) or closed (0)",
	})

	breakerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gate_breaker_failures_total",
		Help: "Total number of failures recorded by the circuit breaker",
	})
)

// State represents the breaker state.
type State int

const (
	StateClosed State = iota // Normal operation; requests pass through.
	StateOpen                // Failing; requests are rejected immediately.
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds the breaker configuration.
type Config struct {
	// Threshold is the failure count within Window that opens the breaker.
	Threshold int

	// Window is the trailing window failures are counted in.
	Window time.Duration

	// Cooldown is how long the breaker stays open before self-closing.
	Cooldown time.Duration
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		Threshold: 10,
		Window:    60 * time.Second,
		Cooldown:  30 * time.Second,
	}
}

// Snapshot is an observability view of the breaker.
type Snapshot struct {
	State          State     `json:"state"`
	RecentFailures int       `json:"recent_failures"`
	OpenedAt       time.Time `json:"opened_at,omitempty"`
}

// Breaker tracks upstream failure rate. All state is guarded by one mutex
// and mutated only through the breaker's own methods.
type Breaker struct {
	mu       sync.Mutex
	cfg      Config
	failures []time.Time
	openedAt time.Time
	logger   zerolog.Logger

	// now is swapped in tests to simulate window and cooldown expiry.
	now func() time.Time
}

// New creates a closed breaker.
func New(cfg Config, logger zerolog.Logger) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	return &Breaker{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// RecordFailure counts one failure. When the windowed count reaches the
// threshold the breaker opens. Recording on an already-open breaker keeps
// counting for observability but never re-stamps the open time.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.sweepLocked(now)
	b.failures = append(b.failures, now)
	breakerFailures.Inc()

	if b.openedAt.IsZero() && len(b.failures) >= b.cfg.Threshold {
		b.openedAt = now
		breakerTrips.Inc()
		breakerState.Set(1)
		b.logger.Error().
			Int("failures", len(b.failures)).
			Dur("cooldown", b.cfg.Cooldown).
			Msg("Circuit breaker opened")
	}
}

// RecordSuccess fully resets the breaker: failure history and open state
// are cleared unconditionally.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.openedAt.IsZero() {
		b.logger.Info().Msg("Circuit breaker closed after success")
	}
	b.failures = nil
	b.openedAt = time.Time{}
	breakerState.Set(0)
}

// IsOpen reports whether calls should fail fast. As a side effect, an open
// breaker whose cooldown has elapsed transitions back to closed here.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isOpenLocked(b.now())
}

// State returns an observability snapshot.
func (b *Breaker) State() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.sweepLocked(now)
	state := StateClosed
	if b.isOpenLocked(now) {
		state = StateOpen
	}
	return Snapshot{
		State:          state,
		RecentFailures: len(b.failures),
		OpenedAt:       b.openedAt,
	}
}

func (b *Breaker) isOpenLocked(now time.Time) bool {
	if b.openedAt.IsZero() {
		return false
	}
	if now.Sub(b.openedAt) > b.cfg.Cooldown {
		// Cooldown elapsed: self-close. Failure history stays; the window
		// sweep ages it out, so a still-failing upstream re-opens on the
		// next eligible failure instead of earning a fresh threshold.
		b.openedAt = time.Time{}
		breakerState.Set(0)
		b.logger.Info().Msg("Circuit breaker cooldown elapsed, closing")
		return false
	}
	return true
}

// sweepLocked drops failures older than the trailing window.
func (b *Breaker) sweepLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	kept := b.failures[:0]
	for _, ts := range b.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.failures = kept
}
