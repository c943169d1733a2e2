// Package ratelimit persists the upstream's rate-limit pause in Redis so it
// is shared across every gate process and survives restarts. Without it, a
// restarted process would immediately hit a provider that told us seconds
// ago to back off.
//
// The local pacing itself lives in pkg/throttle; this package only remembers
// the pause deadline.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	sharedPausesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gate_ratelimit_shared_pauses_total",
		Help: "Total number of upstream pauses recorded in shared state",
	})

	pauseRestoresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gate_ratelimit_pause_restores_total",
		Help: "Total number of active pauses restored from shared state at startup",
	})
)

// redisKeyPausedUntil holds the pause deadline as RFC 3339. The key's TTL
// matches the pause so expiry needs no sweeping.
const redisKeyPausedUntil = "pg:ratelimit:paused_until"

// Tracker reads and writes the shared pause deadline.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewTracker creates a tracker over the given Redis client.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
	}
}

// RecordPause stores a pause deadline. A deadline already in the past is
// ignored, and an existing later deadline is never shortened.
func (t *Tracker) RecordPause(ctx context.Context, until time.Time) error {
	wait := time.Until(until)
	if wait <= 0 {
		return nil
	}

	existing, err := t.pausedUntil(ctx)
	if err != nil {
		return err
	}
	if existing.After(until) {
		return nil
	}

	value := until.UTC().Format(time.RFC3339Nano)
	if err := t.redis.Set(ctx, redisKeyPausedUntil, value, wait).Err(); err != nil {
		return fmt.Errorf("store pause deadline: %w", err)
	}

	sharedPausesTotal.Inc()
	t.logger.Warn().Time("until", until).Msg("Recorded shared upstream pause")
	return nil
}

// PausedUntil returns the active pause deadline, or the zero time when no
// pause is in effect.
func (t *Tracker) PausedUntil(ctx context.Context) (time.Time, error) {
	until, err := t.pausedUntil(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if until.After(time.Now()) {
		return until, nil
	}
	return time.Time{}, nil
}

// RestorePause reports the remaining pause duration, for re-arming a local
// throttle at startup. Zero means no pause is active.
func (t *Tracker) RestorePause(ctx context.Context) (time.Duration, error) {
	until, err := t.PausedUntil(ctx)
	if err != nil {
		return 0, err
	}
	wait := time.Until(until)
	if wait <= 0 {
		return 0, nil
	}

	pauseRestoresTotal.Inc()
	t.logger.Warn().Time("until", until).Msg("Restoring upstream pause from shared state")
	return wait, nil
}

func (t *Tracker) pausedUntil(ctx context.Context) (time.Time, error) {
	value, err := t.redis.Get(ctx, redisKeyPausedUntil).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("get pause deadline: %w", err)
	}

	until, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse pause deadline %q: %w", value, err)
	}
	return until, nil
}
