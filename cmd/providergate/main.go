package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jmertens/providergate/internal/config"
	"github.com/jmertens/providergate/pkg/breaker"
	"github.com/jmertens/providergate/pkg/cache"
	"github.com/jmertens/providergate/pkg/client"
	"github.com/jmertens/providergate/pkg/logging"
	"github.com/jmertens/providergate/pkg/ratelimit"
	"github.com/jmertens/providergate/pkg/throttle"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fallbackLogger := logging.Setup(logging.DefaultConfig())
		fallbackLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
	})

	adapter, redisClient, cleanup, err := buildAdapter(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize cache backend")
	}
	defer cleanup()

	wrapper := cache.NewWrapper(adapter,
		cache.WithLogger(logging.NewLogger("cache")),
		cache.WithMaxInFlight(cfg.Cache.MaxInFlight),
	)

	bucket := throttle.New(throttle.Config{
		Rate:     cfg.Throttle.Rate,
		Burst:    cfg.Throttle.Burst,
		MaxQueue: cfg.Throttle.MaxQueue,
	}, logging.NewLogger("throttle"))
	if cfg.Throttle.GracePeriod > 0 {
		time.AfterFunc(cfg.Throttle.GracePeriod, bucket.EndGracePeriod)
	} else {
		bucket.EndGracePeriod()
	}

	circuit := breaker.New(breaker.Config{
		Threshold: cfg.Breaker.Threshold,
		Window:    cfg.Breaker.Window,
		Cooldown:  cfg.Breaker.Cooldown,
	}, logging.NewLogger("breaker"))

	// With a shared Redis, an upstream pause recorded by any process (or a
	// previous life of this one) re-arms the local throttle at startup.
	var tracker *ratelimit.Tracker
	if redisClient != nil {
		tracker = ratelimit.NewTracker(redisClient, logging.NewLogger("ratelimit"))
		restoreCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		wait, err := tracker.RestorePause(restoreCtx)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to read shared pause state")
		} else if wait > 0 {
			bucket.NotifyRateLimited(wait)
		}
	}

	gate, err := client.New(client.Config{
		BaseURL:        cfg.Upstream.BaseURL,
		UserAgent:      cfg.Upstream.UserAgent,
		Cache:          wrapper,
		Throttle:       bucket,
		Breaker:        circuit,
		PauseTracker:   tracker,
		DefaultTTL:     cfg.Cache.DefaultTTL,
		RequestTimeout: cfg.Upstream.RequestTimeout,
		AcquireTimeout: cfg.Throttle.AcquireTimeout,
		Retry: client.RetryConfig{
			MaxAttempts:       cfg.Retry.MaxAttempts,
			InitialBackoff:    cfg.Retry.InitialBackoff,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 2.0,
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create client")
	}
	defer gate.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(gate.Stats())
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/fetch", fetchHandler(gate, logger))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Str("upstream", cfg.Upstream.BaseURL).
			Str("cache_backend", cfg.Cache.Backend).Msg("providergate listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Shutdown failed")
	}
}

// buildAdapter selects the configured cache backend. The Redis client is
// returned alongside the adapter so shared state beyond the cache (the
// rate-limit pause) can reuse the connection; it is nil for the memory
// backend.
func buildAdapter(cfg config.Config, logger zerolog.Logger) (cache.Adapter, *redis.Client, func(), error) {
	switch cfg.Cache.Backend {
	case "redis":
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, nil, nil, err
		}
		logger.Info().Str("addr", cfg.Cache.Redis.Addr).Msg("Connected to Redis")
		return cache.NewRedisAdapter(redisClient), redisClient, func() { redisClient.Close() }, nil
	default:
		adapter := cache.NewMemoryAdapter()
		return adapter, nil, adapter.Close, nil
	}
}

// fetchHandler proxies /fetch?endpoint=... through the resilience pipeline.
// Remaining query parameters are forwarded to the upstream.
func fetchHandler(gate *client.Client, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := r.URL.Query()
		endpoint := params.Get("endpoint")
		if endpoint == "" {
			http.Error(w, "missing endpoint parameter", http.StatusBadRequest)
			return
		}
		params.Del("endpoint")

		data, err := gate.Fetch(r.Context(), endpoint, params)
		if err != nil {
			status := http.StatusBadGateway
			var cachedErr *cache.CachedError
			switch {
			case errors.Is(err, client.ErrBreakerOpen):
				status = http.StatusServiceUnavailable
			case errors.As(err, &cachedErr):
				if cachedErr.Kind == cache.KindNotFound {
					status = http.StatusNotFound
				}
			}
			logger.Debug().Err(err).Str("endpoint", endpoint).Int("status", status).
				Msg("Fetch failed")
			http.Error(w, err.Error(), status)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write(data)
	}
}
