package cache

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

var ErrNilClient = errors.New("redis cache: nil client")

// Redis implements SessionCache on a Redis server, sharing sessions between
// processes. Values are msgpack-encoded and stored without expiry.
// The generic type T represents the session type being cached.
type Redis[T any] struct {
	client      goredis.UniversalClient
	prefix      string
	closeClient bool
}

// RedisOption configures a Redis cache.
type RedisOption func(*redisOptions)

type redisOptions struct {
	prefix      string
	closeClient bool
}

// WithKeyPrefix namespaces every key stored by the cache.
func WithKeyPrefix(prefix string) RedisOption {
	return func(o *redisOptions) {
		o.prefix = prefix
	}
}

// WithOwnedClient closes the client when the cache is closed. Set this only
// when the cache exclusively owns the client.
func WithOwnedClient() RedisOption {
	return func(o *redisOptions) {
		o.closeClient = true
	}
}

// NewRedis creates a Redis-backed cache using the supplied client.
func NewRedis[T any](client goredis.UniversalClient, opts ...RedisOption) (*Redis[T], error) {
	if client == nil {
		return nil, ErrNilClient
	}

	options := &redisOptions{}
	for _, opt := range opts {
		opt(options)
	}

	return &Redis[T]{
		client:      client,
		prefix:      options.prefix,
		closeClient: options.closeClient,
	}, nil
}

// Get retrieves a session from Redis. A missing key is not an error.
// Undecodable entries are reported as errors and left in place: the next
// successful Set replaces them.
func (r *Redis[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T

	data, err := r.client.Get(ctx, r.storageKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("failed to get cached session: %w", err)
	}

	var session T
	if err := msgpack.Unmarshal(data, &session); err != nil {
		return zero, false, fmt.Errorf("failed to decode cached session for key %q: %w", key, err)
	}

	return session, true, nil
}

// Set stores a session with no expiry.
func (r *Redis[T]) Set(ctx context.Context, key string, session T) error {
	data, err := msgpack.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := r.client.Set(ctx, r.storageKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set cached session: %w", err)
	}
	return nil
}

// Close releases the client when the cache owns it.
func (r *Redis[T]) Close() error {
	if !r.closeClient {
		return nil
	}
	if err := r.client.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		log.Warn().Err(err).Msg("error closing redis client")
		return err
	}
	return nil
}

func (r *Redis[T]) storageKey(key string) string {
	return r.prefix + key
}
