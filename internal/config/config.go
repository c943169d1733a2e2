// Package config loads the providergate configuration with
// env > file > default precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides. Double underscores
// signal nesting: PROVIDERGATE_THROTTLE__RATE -> throttle.rate.
const EnvPrefix = "PROVIDERGATE"

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Log      LogConfig      `koanf:"log"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Cache    CacheConfig    `koanf:"cache"`
	Throttle ThrottleConfig `koanf:"throttle"`
	Breaker  BreakerConfig  `koanf:"breaker"`
	Retry    RetryConfig    `koanf:"retry"`
}

// ServerConfig configures the proxy HTTP server.
type ServerConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

// UpstreamConfig describes the provider being shielded.
type UpstreamConfig struct {
	BaseURL        string        `koanf:"baseurl"`
	UserAgent      string        `koanf:"useragent"`
	RequestTimeout time.Duration `koanf:"requesttimeout"`
}

// CacheConfig selects and tunes the cache backend.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend     string        `koanf:"backend"`
	DefaultTTL  time.Duration `koanf:"defaultttl"`
	MaxInFlight int           `koanf:"maxinflight"`
	Redis       RedisConfig   `koanf:"redis"`
}

// RedisConfig configures the Redis adapter.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// ThrottleConfig tunes the outbound token bucket.
type ThrottleConfig struct {
	Rate           float64       `koanf:"rate"`
	Burst          float64       `koanf:"burst"`
	MaxQueue       int           `koanf:"maxqueue"`
	AcquireTimeout time.Duration `koanf:"acquiretimeout"`
	GracePeriod    time.Duration `koanf:"graceperiod"`
}

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	Threshold int           `koanf:"threshold"`
	Window    time.Duration `koanf:"window"`
	Cooldown  time.Duration `koanf:"cooldown"`
}

// RetryConfig tunes retry-with-backoff around upstream attempts.
type RetryConfig struct {
	MaxAttempts    int           `koanf:"maxattempts"`
	InitialBackoff time.Duration `koanf:"initialbackoff"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		Log:    LogConfig{Level: "info"},
		Upstream: UpstreamConfig{
			UserAgent:      "providergate/0.1.0",
			RequestTimeout: 15 * time.Second,
		},
		Cache: CacheConfig{
			Backend:     "memory",
			DefaultTTL:  10 * time.Minute,
			MaxInFlight: 512,
			Redis:       RedisConfig{Addr: "localhost:6379"},
		},
		Throttle: ThrottleConfig{
			Rate:           10,
			Burst:          10,
			MaxQueue:       100,
			AcquireTimeout: 30 * time.Second,
			GracePeriod:    60 * time.Second,
		},
		Breaker: BreakerConfig{
			Threshold: 10,
			Window:    60 * time.Second,
			Cooldown:  30 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 1 * time.Second,
		},
	}
}

// Load assembles the effective configuration: defaults, then an optional
// yaml file, then environment overrides.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultMap(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	transform := func(s string) string {
		key := strings.TrimPrefix(s, EnvPrefix+"_")
		key = strings.ReplaceAll(key, "__", ".")
		key = strings.ReplaceAll(key, "_", "")
		return strings.ToLower(key)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", transform), nil); err != nil {
		return Config{}, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("config: redis backend requires an address")
	}
	if c.Throttle.Rate <= 0 {
		return fmt.Errorf("config: throttle rate must be positive")
	}
	if c.Breaker.Threshold <= 0 {
		return fmt.Errorf("config: breaker threshold must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("config: retry attempts must be positive")
	}
	return nil
}

// defaultMap feeds Default into the koanf confmap provider.
func defaultMap() map[string]any {
	d := Default()
	return map[string]any{
		"server": map[string]any{
			"addr": d.Server.Addr,
		},
		"log": map[string]any{
			"level":  d.Log.Level,
			"pretty": d.Log.Pretty,
		},
		"upstream": map[string]any{
			"baseurl":        d.Upstream.BaseURL,
			"useragent":      d.Upstream.UserAgent,
			"requesttimeout": d.Upstream.RequestTimeout,
		},
		"cache": map[string]any{
			"backend":     d.Cache.Backend,
			"defaultttl":  d.Cache.DefaultTTL,
			"maxinflight": d.Cache.MaxInFlight,
			"redis": map[string]any{
				"addr":     d.Cache.Redis.Addr,
				"password": d.Cache.Redis.Password,
				"db":       d.Cache.Redis.DB,
			},
		},
		"throttle": map[string]any{
			"rate":           d.Throttle.Rate,
			"burst":          d.Throttle.Burst,
			"maxqueue":       d.Throttle.MaxQueue,
			"acquiretimeout": d.Throttle.AcquireTimeout,
			"graceperiod":    d.Throttle.GracePeriod,
		},
		"breaker": map[string]any{
			"threshold": d.Breaker.Threshold,
			"window":    d.Breaker.Window,
			"cooldown":  d.Breaker.Cooldown,
		},
		"retry": map[string]any{
			"maxattempts":    d.Retry.MaxAttempts,
			"initialbackoff": d.Retry.InitialBackoff,
		},
	}
}
