package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/thomasreuvers/apiease/internal/cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

var (
	metricsOnce     sync.Once
	refreshOutcomes metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/thomasreuvers/apiease/internal/session")

		var err error
		refreshOutcomes, err = meter.Int64Counter(
			"session.refreshes",
			metric.WithDescription("Session refresh requests by outcome"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Refresh outcomes recorded in the session.refreshes metric.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeCoalesced = "coalesced"
	OutcomeReused    = "reused"
)

// Store owns the sessions of one or more upstreams, keyed by cache key, and
// ensures that at most one refresh per key is in flight.
type Store[T any] struct {
	cache cache.SessionCache[T]
	group singleflight.Group
}

// NewStore creates a Store backed by c.
func NewStore[T any](c cache.SessionCache[T]) *Store[T] {
	initMetrics()
	return &Store[T]{cache: c}
}

// Current returns the cached session for key. Cache faults are logged and
// reported as a miss: a request without a session still reaches the server,
// and its 401 triggers a refresh.
func (s *Store[T]) Current(ctx context.Context, key string) (T, bool) {
	session, found, err := s.cache.Get(ctx, key)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("session cache read failed, continuing without session")
		var zero T
		return zero, false
	}
	return session, found
}

// Refresh replaces the session for key with a new one from provider, unless
// the cache already holds a session whose token differs from stale: that
// session was stored by a refresh that completed after the caller sent its
// request, and is returned instead.
//
// Concurrent calls for the same key share a single refresh. The refresh runs
// detached from the caller's cancellation, so a caller that gives up returns
// ctx.Err() while the refresh completes for everyone else. A failed refresh
// leaves the cached session untouched and is returned to every caller as a
// *RefreshError.
func (s *Store[T]) Refresh(ctx context.Context, key string, provider Provider[T], stale string) (T, error) {
	leader := false
	refreshCtx := context.WithoutCancel(ctx)

	ch := s.group.DoChan(key, func() (any, error) {
		leader = true
		return s.refresh(refreshCtx, key, provider, stale)
	})

	var zero T

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if !leader {
			s.record(ctx, OutcomeCoalesced)
			log.Ctx(ctx).Debug().Str("key", key).Msg("joined in-flight session refresh")
		}
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

func (s *Store[T]) refresh(ctx context.Context, key string, provider Provider[T], stale string) (T, error) {
	if current, found := s.Current(ctx, key); found {
		if token := provider.AccessToken(current); token != "" && token != stale {
			s.record(ctx, OutcomeReused)
			log.Ctx(ctx).Debug().Str("key", key).Msg("session already refreshed, reusing cached session")
			return current, nil
		}
	}

	log.Ctx(ctx).Info().Str("key", key).Msg("refreshing session")

	session, err := provider.RefreshSession(ctx)
	if err != nil {
		s.record(ctx, OutcomeFailure)
		log.Ctx(ctx).Error().Err(err).Str("key", key).Msg("session refresh failed, keeping previous session")
		var zero T
		return zero, &RefreshError{Key: key, Err: err}
	}

	// the refreshed session is usable even when it cannot be stored
	if err := s.cache.Set(ctx, key, session); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("could not store refreshed session")
	}

	s.record(ctx, OutcomeSuccess)
	log.Ctx(ctx).Info().Str("key", key).Msg("session refreshed")

	return session, nil
}

func (s *Store[T]) record(ctx context.Context, outcome string) {
	if refreshOutcomes == nil {
		return
	}
	refreshOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("session.outcome", outcome)))
}

// Close releases the underlying cache.
func (s *Store[T]) Close() error {
	return s.cache.Close()
}
