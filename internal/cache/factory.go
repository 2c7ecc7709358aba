package cache

import (
	"context"
	"crypto/tls"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/thomasreuvers/apiease/internal/config"
)

// NewFromConfig creates a cache implementation based on the provided configuration.
//
// The cache type must be either "memory" or "redis". Any other value returns an error.
// For "redis", the cacheConfig.Redis.Address must be provided.
func NewFromConfig[T any](ctx context.Context, cacheConfig config.CacheConfig) (SessionCache[T], error) {
	switch cacheConfig.Type {
	case "redis":
		log.Info().
			Str("cache_type", "redis").
			Str("address", cacheConfig.Redis.Address).
			Bool("tls", cacheConfig.Redis.TLS).
			Msg("initializing distributed session cache")

		if cacheConfig.Redis.Address == "" {
			return nil, fmt.Errorf("redis address is required when cache type is redis")
		}

		opts := &goredis.Options{
			Addr:     cacheConfig.Redis.Address,
			Username: cacheConfig.Redis.Username,
			Password: cacheConfig.Redis.Password,
		}
		if cacheConfig.Redis.TLS {
			opts.TLSConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}

		distributed, err := NewRedis[T](
			goredis.NewClient(opts),
			WithKeyPrefix(cacheConfig.Redis.KeyPrefix),
			WithOwnedClient(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis cache: %w", err)
		}

		return NewInstrumented(distributed, "redis"), nil

	case "memory":
		log.Info().
			Str("cache_type", "memory").
			Int("max_size", cacheConfig.MemoryMaxSize).
			Msg("initializing in-memory session cache")

		memory, err := NewMemory[T](cacheConfig.MemoryMaxSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create memory cache: %w", err)
		}

		return NewInstrumented(memory, "memory"), nil

	default:
		return nil, fmt.Errorf("invalid cache type %q: must be either \"memory\" or \"redis\"", cacheConfig.Type)
	}
}
