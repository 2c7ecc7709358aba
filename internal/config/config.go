package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Cache   CacheConfig
	Observe ObserveConfig
	Retry   RetryConfig
	Server  ServerConfig

	// APISettingsFile is the YAML document holding the per-client settings
	// sections.
	APISettingsFile string `env:"API_SETTINGS_FILE, default=apisettings.yaml"`
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

// CacheConfig specifies session cache configuration.
type CacheConfig struct {
	// Type selects the cache implementation: "memory" (default) or "redis"
	Type string `env:"CACHE_TYPE, default=memory"`

	// MemoryMaxSize bounds the number of cached sessions for the memory
	// cache, evicting keys beyond the bound. Zero leaves it unbounded and
	// nothing is ever evicted.
	MemoryMaxSize int `env:"CACHE_MEMORY_MAX_SIZE, default=0"`

	// Redis holds distributed cache settings.
	Redis RedisConfig
}

// RedisConfig specifies distributed cache configuration.
type RedisConfig struct {
	// Address is the Redis server address (host:port).
	Address string `env:"REDIS_ADDRESS"`

	// TLS enables TLS connection to Redis. Defaults to true so the secure option
	// is the default.
	TLS bool `env:"REDIS_TLS, default=true"`

	Username string `env:"REDIS_USERNAME"`
	Password string `env:"REDIS_PASSWORD"`

	// KeyPrefix namespaces session keys written to a shared server.
	KeyPrefix string `env:"REDIS_KEY_PREFIX, default=apiease:"`
}

// RetryConfig selects and tunes the resilience policy wrapped around client
// calls.
type RetryConfig struct {
	// Policy is one of "none" (default), "attempts" or "exponential".
	Policy string `env:"RETRY_POLICY, default=none"`

	MaxAttempts           int     `env:"RETRY_MAX_ATTEMPTS, default=3"`
	InitialIntervalMillis int     `env:"RETRY_INITIAL_INTERVAL_MS, default=200"`
	MaxIntervalMillis     int     `env:"RETRY_MAX_INTERVAL_MS, default=5000"`
	Multiplier            float64 `env:"RETRY_MULTIPLIER, default=2"`

	// CircuitFailures is the count of consecutive failures that opens the
	// circuit. Zero disables the breaker.
	CircuitFailures        int `env:"RETRY_CIRCUIT_FAILURES, default=0"`
	CircuitCooldownSeconds int `env:"RETRY_CIRCUIT_COOLDOWN_SECS, default=30"`

	// RateLimitRPS limits executions per second. Zero disables limiting.
	RateLimitRPS   float64 `env:"RETRY_RATE_LIMIT_RPS, default=0"`
	RateLimitBurst int     `env:"RETRY_RATE_LIMIT_BURST, default=1"`
}

func (r RetryConfig) InitialInterval() time.Duration {
	return time.Duration(r.InitialIntervalMillis) * time.Millisecond
}

func (r RetryConfig) MaxInterval() time.Duration {
	return time.Duration(r.MaxIntervalMillis) * time.Millisecond
}

func (r RetryConfig) CircuitCooldown() time.Duration {
	return time.Duration(r.CircuitCooldownSeconds) * time.Second
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=apiease"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Cache.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid cache configuration: %w", err)
	}

	err = cfg.Retry.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid retry configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the cache configuration is valid.
func (c *CacheConfig) Validate() error {
	switch c.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("CACHE_TYPE must be \"memory\" or \"redis\", got %q", c.Type)
	}

	if c.MemoryMaxSize < 0 {
		return fmt.Errorf("CACHE_MEMORY_MAX_SIZE must not be negative")
	}

	// Redis requires address
	if c.Type == "redis" && c.Redis.Address == "" {
		return fmt.Errorf("REDIS_ADDRESS required when CACHE_TYPE=redis")
	}

	return nil
}

// Validate checks that the retry configuration is valid.
func (r *RetryConfig) Validate() error {
	switch r.Policy {
	case "none", "attempts", "exponential":
	default:
		return fmt.Errorf("RETRY_POLICY must be one of none, attempts or exponential, got %q", r.Policy)
	}

	if r.Policy != "none" && r.MaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}

	if r.Policy == "exponential" && r.Multiplier < 1 {
		return fmt.Errorf("RETRY_MULTIPLIER must be at least 1")
	}

	if r.CircuitFailures < 0 {
		return fmt.Errorf("RETRY_CIRCUIT_FAILURES must not be negative")
	}

	if r.RateLimitRPS > 0 && r.RateLimitBurst < 1 {
		return fmt.Errorf("RETRY_RATE_LIMIT_BURST must be at least 1 when rate limiting is enabled")
	}

	return nil
}
