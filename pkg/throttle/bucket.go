package throttle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Errors returned by Acquire.
var (
	// ErrQueueFull is returned when the waiter queue is at capacity.
	ErrQueueFull = errors.New("throttle: waiter queue full")

	// ErrAcquireTimeout is returned when no token arrived within the
	// caller's timeout.
	ErrAcquireTimeout = errors.New("throttle: acquire timed out")

	// ErrDestroyed is returned to every queued waiter at shutdown and to
	// any Acquire after Destroy.
	ErrDestroyed = errors.New("throttle: bucket destroyed")
)

// Config holds the bucket configuration.
type Config struct {
	// Rate is the sustained refill rate in tokens per second.
	Rate float64

	// Burst is the maximum token level.
	Burst float64

	// MaxQueue bounds the waiter queue. Zero means no queueing: callers
	// either get a token immediately or are rejected.
	MaxQueue int
}

// DefaultConfig returns a conservative default configuration.
func DefaultConfig() Config {
	return Config{
		Rate:     10,
		Burst:    10,
		MaxQueue: 100,
	}
}

// waiter is one queued Acquire call. Its channel is buffered so a grant or
// rejection is delivered exactly once without blocking the granter.
type waiter struct {
	ch         chan error
	enqueuedAt time.Time
}

// Stats is an observability snapshot of the bucket.
type Stats struct {
	TotalRequests     uint64        `json:"total_requests"`
	ImmediateGrants   uint64        `json:"immediate_grants"`
	QueuedGrants      uint64        `json:"queued_grants"`
	RejectedTimeout   uint64        `json:"rejected_timeout"`
	RejectedQueueFull uint64        `json:"rejected_queue_full"`
	CurrentTokens     float64       `json:"current_tokens"`
	QueueDepth        int           `json:"queue_depth"`
	AverageWait       time.Duration `json:"average_wait"`
	GraceMode         bool          `json:"grace_mode"`
	PausedUntil       time.Time     `json:"paused_until,omitempty"`
}

// Bucket is a token-bucket rate limiter with a FIFO waiter queue. It knows
// nothing about caching or HTTP; the orchestrator composes it.
//
// All state is guarded by one mutex and mutated only through the bucket's
// own methods.
type Bucket struct {
	mu          sync.Mutex
	cfg         Config
	tokens      float64
	lastRefill  time.Time
	grace       bool
	pausedUntil time.Time
	queue       []*waiter
	drainTimer  *time.Timer
	destroyed   bool
	logger      zerolog.Logger

	totalRequests     uint64
	immediateGrants   uint64
	queuedGrants      uint64
	rejectedTimeout   uint64
	rejectedQueueFull uint64
	totalWait         time.Duration
}

// New creates a bucket. It starts in grace mode, refilling at half the
// configured rate, and with a full burst of tokens available.
func New(cfg Config, logger zerolog.Logger) *Bucket {
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultConfig().Rate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.Rate
	}
	return &Bucket{
		cfg:        cfg,
		tokens:     cfg.Burst,
		lastRefill: time.Now(),
		grace:      true,
		logger:     logger,
	}
}

// Acquire blocks until a token is granted, the timeout elapses, or the
// context is cancelled. A timeout of zero waits until context cancellation
// only. A timed-out or cancelled waiter removes itself from the queue with
// no effect on other waiters.
func (b *Bucket) Acquire(ctx context.Context, timeout time.Duration) error {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		Rejections.WithLabelValues("destroyed").Inc()
		return ErrDestroyed
	}
	b.totalRequests++

	now := time.Now()
	b.refillLocked(now)

	if len(b.queue) == 0 && !b.pausedLocked(now) && b.tokens >= 1 {
		b.tokens--
		b.immediateGrants++
		Tokens.Set(b.tokens)
		b.mu.Unlock()
		Grants.WithLabelValues("immediate").Inc()
		return nil
	}

	if b.cfg.MaxQueue >= 0 && len(b.queue) >= b.cfg.MaxQueue {
		b.rejectedQueueFull++
		b.mu.Unlock()
		Rejections.WithLabelValues("queue_full").Inc()
		return ErrQueueFull
	}

	w := &waiter{ch: make(chan error, 1), enqueuedAt: now}
	b.queue = append(b.queue, w)
	QueueDepth.Set(float64(len(b.queue)))
	b.scheduleDrainLocked(now)
	b.mu.Unlock()

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case err := <-w.ch:
		return err
	case <-timerC:
		return b.abandon(w, ErrAcquireTimeout)
	case <-ctx.Done():
		return b.abandon(w, ctx.Err())
	}
}

// NotifyRateLimited pauses every grant until now+wait. Called by the
// orchestrator when the upstream responds 429, so one Retry-After header
// applies globally rather than to a single request.
func (b *Bucket) NotifyRateLimited(wait time.Duration) {
	if wait <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return
	}

	until := time.Now().Add(wait)
	if until.After(b.pausedUntil) {
		b.pausedUntil = until
	}
	Pauses.Inc()
	b.logger.Warn().Dur("wait", wait).Time("until", b.pausedUntil).
		Msg("Throttle paused by upstream rate limit")
	b.scheduleDrainLocked(time.Now())
}

// EndGracePeriod switches from the half-rate warm-up to the full rate.
func (b *Bucket) EndGracePeriod() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.grace || b.destroyed {
		return
	}
	// Settle accrual at the half rate up to this instant first.
	b.refillLocked(time.Now())
	b.grace = false
	b.logger.Info().Float64("rate", b.cfg.Rate).Msg("Throttle grace period ended")
	b.scheduleDrainLocked(time.Now())
}

// Stats returns an observability snapshot.
func (b *Bucket) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(time.Now())

	var avgWait time.Duration
	if b.queuedGrants > 0 {
		avgWait = b.totalWait / time.Duration(b.queuedGrants)
	}
	return Stats{
		TotalRequests:     b.totalRequests,
		ImmediateGrants:   b.immediateGrants,
		QueuedGrants:      b.queuedGrants,
		RejectedTimeout:   b.rejectedTimeout,
		RejectedQueueFull: b.rejectedQueueFull,
		CurrentTokens:     b.tokens,
		QueueDepth:        len(b.queue),
		AverageWait:       avgWait,
		GraceMode:         b.grace,
		PausedUntil:       b.pausedUntil,
	}
}

// Destroy rejects every queued waiter with ErrDestroyed and stops the drain
// timer. No waiter is left unsettled. Used at process shutdown.
func (b *Bucket) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return
	}
	b.destroyed = true

	if b.drainTimer != nil {
		b.drainTimer.Stop()
		b.drainTimer = nil
	}
	for _, w := range b.queue {
		w.ch <- ErrDestroyed
		Rejections.WithLabelValues("destroyed").Inc()
	}
	b.queue = nil
	QueueDepth.Set(0)
	b.logger.Info().Msg("Throttle destroyed")
}

// abandon removes a waiter that timed out or was cancelled. If the waiter
// was granted before removal could happen, the grant wins: the buffered
// channel already holds the result.
func (b *Bucket) abandon(w *waiter, reason error) error {
	b.mu.Lock()
	for i, queued := range b.queue {
		if queued == w {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			if errors.Is(reason, ErrAcquireTimeout) {
				b.rejectedTimeout++
				Rejections.WithLabelValues("timeout").Inc()
			}
			QueueDepth.Set(float64(len(b.queue)))
			b.mu.Unlock()
			return reason
		}
	}
	b.mu.Unlock()
	return <-w.ch
}

// effectiveRate is the refill rate, halved during the grace period.
func (b *Bucket) effectiveRate() float64 {
	if b.grace {
		return b.cfg.Rate / 2
	}
	return b.cfg.Rate
}

// refillLocked accrues tokens for the elapsed time, capped at the burst.
func (b *Bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed.Seconds() * b.effectiveRate()
	if b.tokens > b.cfg.Burst {
		b.tokens = b.cfg.Burst
	}
	b.lastRefill = now
	Tokens.Set(b.tokens)
}

// pausedLocked reports whether an upstream-signaled pause is in effect.
func (b *Bucket) pausedLocked(now time.Time) bool {
	return now.Before(b.pausedUntil)
}

// drain grants tokens to queued waiters in FIFO order, then re-schedules
// itself for the next expected token or pause end.
func (b *Bucket) drain() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return
	}

	now := time.Now()
	b.refillLocked(now)

	if !b.pausedLocked(now) {
		for len(b.queue) > 0 && b.tokens >= 1 {
			w := b.queue[0]
			b.queue = b.queue[1:]
			b.tokens--
			b.queuedGrants++
			wait := now.Sub(w.enqueuedAt)
			b.totalWait += wait
			WaitSeconds.Observe(wait.Seconds())
			Grants.WithLabelValues("queued").Inc()
			w.ch <- nil
		}
		Tokens.Set(b.tokens)
		QueueDepth.Set(float64(len(b.queue)))
	}

	b.scheduleDrainLocked(now)
}

// scheduleDrainLocked arms the drain timer for the earliest instant a
// queued waiter could be granted: pause end or next whole token.
func (b *Bucket) scheduleDrainLocked(now time.Time) {
	if len(b.queue) == 0 {
		return
	}

	var next time.Duration
	if b.pausedLocked(now) {
		next = b.pausedUntil.Sub(now)
	} else if b.tokens >= 1 {
		next = time.Millisecond
	} else {
		needed := (1 - b.tokens) / b.effectiveRate()
		next = time.Duration(needed * float64(time.Second))
	}
	if next < time.Millisecond {
		next = time.Millisecond
	}

	if b.drainTimer == nil {
		b.drainTimer = time.AfterFunc(next, b.drain)
	} else {
		b.drainTimer.Reset(next)
	}
}
