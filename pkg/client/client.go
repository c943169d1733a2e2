// Package client provides the fetch orchestrator: the single entry point
// that composes the cache wrapper, the outbound throttle, and the circuit
// breaker around a retried HTTP call to the upstream provider.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jmertens/providergate/pkg/breaker"
	"github.com/jmertens/providergate/pkg/cache"
	"github.com/jmertens/providergate/pkg/ratelimit"
	"github.com/jmertens/providergate/pkg/throttle"
)

// Prometheus metrics for fetch orchestration.
var (
	fetchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_fetch_requests_total",
		Help: "Total fetches by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gate_fetch_duration_seconds",
		Help:    "Fetch duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	fetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_fetch_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})

	fetchRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_fetch_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	fetchRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gate_fetch_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	fetchRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_fetch_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})

	breakerRejectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gate_breaker_rejects_total",
		Help: "Total fetches rejected fast because the circuit breaker was open",
	})
)

// defaultRetryAfter is used when a 429 response carries no usable
// Retry-After header.
const defaultRetryAfter = 60 * time.Second

// Config holds the orchestrator configuration. Cache, Throttle, and Breaker
// are constructed by the caller and injected; the client never owns ambient
// singletons.
type Config struct {
	// BaseURL of the upstream provider, e.g. "https://api.provider.test".
	BaseURL string

	// UserAgent sent with every request.
	UserAgent string

	// Cache is the envelope cache wrapper.
	Cache *cache.Wrapper

	// Throttle paces outbound calls.
	Throttle *throttle.Bucket

	// Breaker gates calls to a systemically failing upstream.
	Breaker *breaker.Breaker

	// PauseTracker shares upstream pause deadlines across processes.
	// Optional; nil keeps pauses process-local.
	PauseTracker *ratelimit.Tracker

	// DefaultTTL is the cache TTL used when a fetch does not override it.
	DefaultTTL time.Duration

	// RequestTimeout bounds one HTTP attempt.
	RequestTimeout time.Duration

	// AcquireTimeout bounds the wait for a throttle token.
	AcquireTimeout time.Duration

	// Retry configures backoff between attempts.
	Retry RetryConfig

	// HTTPClient overrides the transport (tests). Timeout comes from
	// RequestTimeout regardless.
	HTTPClient *http.Client
}

// Client is the fetch orchestrator exposed to the rest of the system.
type Client struct {
	cfg        Config
	httpClient *http.Client
	cache      *cache.Wrapper
	throttle   *throttle.Bucket
	breaker    *breaker.Breaker
	pause      *ratelimit.Tracker
	logger     zerolog.Logger
}

// Snapshot aggregates the observability state of all three mechanisms.
type Snapshot struct {
	Cache    cache.Stats      `json:"cache"`
	Throttle throttle.Stats   `json:"throttle"`
	Breaker  breaker.Snapshot `json:"breaker"`
}

// New creates a fetch orchestrator.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache wrapper is required")
	}
	if cfg.Throttle == nil {
		return nil, fmt.Errorf("throttle bucket is required")
	}
	if cfg.Breaker == nil {
		return nil, fmt.Errorf("circuit breaker is required")
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 10 * time.Minute
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		cache:      cfg.Cache,
		throttle:   cfg.Throttle,
		breaker:    cfg.Breaker,
		pause:      cfg.PauseTracker,
		logger:     log.With().Str("component", "providergate-client").Logger(),
	}, nil
}

// FetchOption configures a single Fetch call.
type FetchOption func(*fetchOptions)

type fetchOptions struct {
	ttl        time.Duration
	allowStale bool
}

// WithTTL overrides the cache TTL for this fetch.
func WithTTL(ttl time.Duration) FetchOption {
	return func(o *fetchOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithoutStale makes this fetch wait for fresh data instead of serving a
// stale entry while revalidating.
func WithoutStale() FetchOption {
	return func(o *fetchOptions) { o.allowStale = false }
}

// Fetch performs one logical request against the upstream provider through
// the full resilience pipeline.
//
// It returns a *cache.CachedError when the answer is a remembered recent
// failure, ErrBreakerOpen (wrapped) when the upstream is presumed down, or
// the terminal upstream error otherwise.
func (c *Client) Fetch(ctx context.Context, endpoint string, params url.Values, opts ...FetchOption) (json.RawMessage, error) {
	options := fetchOptions{ttl: c.cfg.DefaultTTL, allowStale: true}
	for _, opt := range opts {
		opt(&options)
	}

	start := time.Now()
	defer func() {
		fetchDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	if c.breaker.IsOpen() {
		breakerRejectsTotal.Inc()
		fetchRequestsTotal.WithLabelValues(endpoint, "breaker_open").Inc()
		c.logger.Warn().Str("endpoint", endpoint).Msg("Fetch rejected: circuit breaker open")
		return nil, fmt.Errorf("%w: %s", ErrBreakerOpen, endpoint)
	}

	key := requestKey(endpoint, params)

	var wrapOpts []cache.WrapOption
	if !options.allowStale {
		wrapOpts = append(wrapOpts, cache.WithoutStale())
	}

	data, err := c.cache.Wrap(ctx, key, func(ctx context.Context) (json.RawMessage, error) {
		return c.fetchUpstream(ctx, endpoint, params)
	}, options.ttl, wrapOpts...)

	if err != nil {
		fetchRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, err
	}
	fetchRequestsTotal.WithLabelValues(endpoint, "ok").Inc()
	return data, nil
}

// Stats returns the combined observability snapshot.
func (c *Client) Stats() Snapshot {
	return Snapshot{
		Cache:    c.cache.Stats(),
		Throttle: c.throttle.Stats(),
		Breaker:  c.breaker.State(),
	}
}

// Close releases client resources: queued throttle waiters are rejected so
// no caller is left blocked at shutdown.
func (c *Client) Close() {
	c.throttle.Destroy()
}

// fetchUpstream is the retried fetch handed to the cache wrapper: acquire a
// throttle token, issue one HTTP attempt under the fixed timeout, classify
// the outcome. The breaker records one logical result per fetch: a success
// immediately, a failure only once retries are exhausted and only for
// breaker-eligible classes.
func (c *Client) fetchUpstream(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	var (
		body      json.RawMessage
		lastClass ErrorClass
	)

	classify := func(err error) ErrorClass { return lastClass }

	retryErr := retryWithBackoff(ctx, c.logger, c.cfg.Retry, func() error {
		body = nil

		if err := c.throttle.Acquire(ctx, c.cfg.AcquireTimeout); err != nil {
			// An exhausted throttle is local back-pressure; backing off
			// and retrying is the rate-limit path.
			lastClass = ErrorClassRateLimit
			fetchErrorsTotal.WithLabelValues(string(lastClass)).Inc()
			return fmt.Errorf("throttle: %w", err)
		}

		data, err := c.attempt(ctx, endpoint, params)
		if err != nil {
			var upstream *UpstreamError
			if errors.As(err, &upstream) {
				lastClass = upstream.Class
			} else {
				lastClass = ErrorClassNetwork
			}
			fetchErrorsTotal.WithLabelValues(string(lastClass)).Inc()
			return err
		}

		body = data
		return nil
	}, classify)

	if retryErr != nil {
		if breakerEligible(lastClass) {
			c.breaker.RecordFailure()
		}
		return nil, retryErr
	}

	c.breaker.RecordSuccess()
	return body, nil
}

// attempt performs a single HTTP call under the request timeout.
func (c *Client) attempt(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	reqURL := c.cfg.BaseURL + "/" + trimSlashes(endpoint)
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("HTTP attempt failed")
		return nil, fmt.Errorf("http get %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := parseRetryAfter(resp.Header)
		c.throttle.NotifyRateLimited(wait)
		if c.pause != nil {
			if err := c.pause.RecordPause(ctx, time.Now().Add(wait)); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to record shared pause")
			}
		}
		c.logger.Warn().Str("endpoint", endpoint).Dur("retry_after", wait).
			Msg("Upstream rate limited")
		return nil, &UpstreamError{
			Status:  resp.StatusCode,
			Class:   ErrorClassRateLimit,
			Message: resp.Status,
		}
	}

	if resp.StatusCode >= 500 {
		return nil, &UpstreamError{
			Status:  resp.StatusCode,
			Class:   ErrorClassServer,
			Message: resp.Status,
		}
	}

	if resp.StatusCode >= 400 {
		return nil, &UpstreamError{
			Status:  resp.StatusCode,
			Class:   ErrorClassClient,
			Message: resp.Status,
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return data, nil
}

// parseRetryAfter reads a Retry-After header as delay seconds or an HTTP
// date. Falls back to defaultRetryAfter.
func parseRetryAfter(headers http.Header) time.Duration {
	value := headers.Get("Retry-After")
	if value == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait
		}
		return 0
	}
	return defaultRetryAfter
}

func trimSlashes(endpoint string) string {
	for len(endpoint) > 0 && endpoint[0] == '/' {
		endpoint = endpoint[1:]
	}
	return endpoint
}
