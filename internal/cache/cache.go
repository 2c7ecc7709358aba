package cache

import (
	"context"
)

// SessionCache defines the interface for session caching implementations.
// The generic type T represents the session type being cached. Entries are
// never expired by implementations: the last Set for a key wins for the
// lifetime of the cache. The one exception is a Memory cache built with a
// positive maxSize, which evicts keys once the bound is reached; an evicted
// key reads as a miss and its session is fetched again on the next 401.
type SessionCache[T any] interface {
	// Get retrieves a session from the cache.
	// Returns the session, whether it was found, and any error.
	Get(ctx context.Context, key string) (T, bool, error)

	// Set stores a session in the cache, replacing any existing entry.
	Set(ctx context.Context, key string, session T) error

	// Close releases any resources held by the cache.
	Close() error
}
