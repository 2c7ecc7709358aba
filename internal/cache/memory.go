package cache

import (
	"context"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
)

// Memory is an in-memory cache implementation using otter.
// The generic type T represents the session type being cached.
type Memory[T any] struct {
	cache   *otter.Cache[string, T]
	counter *stats.Counter
}

// NewMemory creates a new in-memory cache. No expiry is configured: entries
// live until replaced. Zero leaves the cache unbounded. A positive maxSize
// opts in to size-based eviction, the only case where an entry can
// disappear without being replaced.
func NewMemory[T any](maxSize int) (*Memory[T], error) {
	counter := stats.NewCounter()
	cache := otter.Must(&otter.Options[string, T]{
		MaximumSize:   maxSize,
		StatsRecorder: counter,
	})

	return &Memory[T]{
		cache:   cache,
		counter: counter,
	}, nil
}

// Get retrieves a session from the cache.
// Returns the session, whether it was found, and any error.
func (m *Memory[T]) Get(ctx context.Context, key string) (T, bool, error) {
	entry, ok := m.cache.GetEntry(key)
	if !ok {
		var zero T
		return zero, false, nil
	}

	return entry.Value, true, nil
}

// Set stores a session in the cache.
func (m *Memory[T]) Set(ctx context.Context, key string, session T) error {
	m.cache.Set(key, session)
	return nil
}

// Stats returns a snapshot of hit and miss counts.
func (m *Memory[T]) Stats() stats.Stats {
	return m.counter.Snapshot()
}

func (m *Memory[T]) Close() error {
	return nil
}
