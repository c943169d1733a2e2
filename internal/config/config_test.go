package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, "memory", cfg.Cache.Backend)
	require.Equal(t, 10*time.Minute, cfg.Cache.DefaultTTL)
	require.Equal(t, 512, cfg.Cache.MaxInFlight)
	require.Equal(t, float64(10), cfg.Throttle.Rate)
	require.Equal(t, 100, cfg.Throttle.MaxQueue)
	require.Equal(t, 60*time.Second, cfg.Throttle.GracePeriod)
	require.Equal(t, 10, cfg.Breaker.Threshold)
	require.Equal(t, 60*time.Second, cfg.Breaker.Window)
	require.Equal(t, 30*time.Second, cfg.Breaker.Cooldown)
	require.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gate.yaml")
	content := `
server:
  addr: ":9090"
upstream:
  baseurl: "https://api.provider.test"
cache:
  backend: redis
  defaultttl: 5m
  redis:
    addr: "redis.internal:6379"
throttle:
  rate: 40
  burst: 20
breaker:
  threshold: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.Server.Addr)
	require.Equal(t, "https://api.provider.test", cfg.Upstream.BaseURL)
	require.Equal(t, "redis", cfg.Cache.Backend)
	require.Equal(t, 5*time.Minute, cfg.Cache.DefaultTTL)
	require.Equal(t, "redis.internal:6379", cfg.Cache.Redis.Addr)
	require.Equal(t, float64(40), cfg.Throttle.Rate)
	require.Equal(t, float64(20), cfg.Throttle.Burst)
	require.Equal(t, 5, cfg.Breaker.Threshold)

	// File-less keys keep their defaults.
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("throttle:\n  rate: 40\n"), 0o600))

	t.Setenv("PROVIDERGATE_THROTTLE__RATE", "25")
	t.Setenv("PROVIDERGATE_LOG__LEVEL", "debug")
	t.Setenv("PROVIDERGATE_UPSTREAM__BASE_URL", "https://env.provider.test")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, float64(25), cfg.Throttle.Rate)
	require.Equal(t, "debug", cfg.Log.Level)
	// Single underscores inside a segment are flattened: BASE_URL -> baseurl.
	require.Equal(t, "https://env.provider.test", cfg.Upstream.BaseURL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid_default",
			mutate: func(*Config) {},
		},
		{
			name:    "unknown_backend",
			mutate:  func(c *Config) { c.Cache.Backend = "memcached" },
			wantErr: "unknown cache backend",
		},
		{
			name: "redis_without_addr",
			mutate: func(c *Config) {
				c.Cache.Backend = "redis"
				c.Cache.Redis.Addr = ""
			},
			wantErr: "redis backend requires an address",
		},
		{
			name:    "zero_rate",
			mutate:  func(c *Config) { c.Throttle.Rate = 0 },
			wantErr: "throttle rate",
		},
		{
			name:    "zero_threshold",
			mutate:  func(c *Config) { c.Breaker.Threshold = 0 },
			wantErr: "breaker threshold",
		},
		{
			name:    "zero_attempts",
			mutate:  func(c *Config) { c.Retry.MaxAttempts = 0 },
			wantErr: "retry attempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
