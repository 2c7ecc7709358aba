package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(context.Background(), envconfig.MapLookuper(map[string]string{}))
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, 0, cfg.Cache.MemoryMaxSize)
	assert.Equal(t, "none", cfg.Retry.Policy)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Retry.InitialInterval())
	assert.Equal(t, 5*time.Second, cfg.Retry.MaxInterval())
	assert.Equal(t, 30*time.Second, cfg.Retry.CircuitCooldown())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "apisettings.yaml", cfg.APISettingsFile)
	assert.Equal(t, "apiease", cfg.Observe.ServiceName)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("CACHE_TYPE", "redis")
	t.Setenv("REDIS_ADDRESS", "localhost:6379")
	t.Setenv("RETRY_POLICY", "exponential")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	expected := RedisConfig{
		Address:   "localhost:6379",
		TLS:       true, // default
		KeyPrefix: "apiease:",
	}
	assert.Equal(t, expected, cfg.Cache.Redis)
	assert.Equal(t, "exponential", cfg.Retry.Policy)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
}

func TestLoad_InvalidCache(t *testing.T) {
	_, err := load(context.Background(), envconfig.MapLookuper(map[string]string{
		"CACHE_TYPE": "redis",
	}))

	assert.ErrorContains(t, err, "invalid cache configuration")
	assert.ErrorContains(t, err, "REDIS_ADDRESS required")
}

func TestLoad_InvalidRetry(t *testing.T) {
	_, err := load(context.Background(), envconfig.MapLookuper(map[string]string{
		"RETRY_POLICY": "forever",
	}))

	assert.ErrorContains(t, err, "invalid retry configuration")
}

func TestCacheConfig_Validate(t *testing.T) {
	cases := []struct {
		name    string
		config  CacheConfig
		message string
	}{
		{"memory", CacheConfig{Type: "memory"}, ""},
		{"redis with address", CacheConfig{Type: "redis", Redis: RedisConfig{Address: "a:1"}}, ""},
		{"redis without address", CacheConfig{Type: "redis"}, "REDIS_ADDRESS required"},
		{"unknown type", CacheConfig{Type: "disk"}, "CACHE_TYPE must be"},
		{"negative size", CacheConfig{Type: "memory", MemoryMaxSize: -1}, "CACHE_MEMORY_MAX_SIZE"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.config.Validate()
			if tc.message == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tc.message)
			}
		})
	}
}

func TestRetryConfig_Validate(t *testing.T) {
	cases := []struct {
		name    string
		config  RetryConfig
		message string
	}{
		{"none", RetryConfig{Policy: "none"}, ""},
		{"attempts", RetryConfig{Policy: "attempts", MaxAttempts: 3}, ""},
		{"attempts without count", RetryConfig{Policy: "attempts"}, "RETRY_MAX_ATTEMPTS"},
		{"exponential with low multiplier", RetryConfig{Policy: "exponential", MaxAttempts: 3, Multiplier: 0.5}, "RETRY_MULTIPLIER"},
		{"negative breaker", RetryConfig{Policy: "none", CircuitFailures: -1}, "RETRY_CIRCUIT_FAILURES"},
		{"rate limit without burst", RetryConfig{Policy: "none", RateLimitRPS: 2}, "RETRY_RATE_LIMIT_BURST"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.config.Validate()
			if tc.message == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tc.message)
			}
		})
	}
}
