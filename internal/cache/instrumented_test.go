package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type oauthSession struct {
	AccessToken string
	ExpiresAt   time.Time
}

type stubCache[T any] struct {
	value    T
	found    bool
	getErr   error
	setErr   error
	closeErr error

	gets int
	sets []T
}

func (s *stubCache[T]) Get(context.Context, string) (T, bool, error) {
	s.gets++
	return s.value, s.found, s.getErr
}

func (s *stubCache[T]) Set(_ context.Context, _ string, session T) error {
	s.sets = append(s.sets, session)
	return s.setErr
}

func (s *stubCache[T]) Close() error {
	return s.closeErr
}

// recordSpan runs fn inside a recorded span and returns the attributes the
// span ended with.
func recordSpan(t *testing.T, fn func(ctx context.Context)) map[attribute.Key]attribute.Value {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("cache-test").Start(t.Context(), "lookup")
	fn(ctx)
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range ended[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	return attrs
}

func TestInstrumented_Get(t *testing.T) {
	stored := oauthSession{AccessToken: "abc", ExpiresAt: time.Unix(1_700_000_000, 0)}
	fault := errors.New("connection reset")

	tests := []struct {
		name           string
		stub           *stubCache[oauthSession]
		expectedValue  oauthSession
		expectedFound  bool
		expectedErr    error
		expectedStatus string
	}{
		{
			name:           "hit",
			stub:           &stubCache[oauthSession]{value: stored, found: true},
			expectedValue:  stored,
			expectedFound:  true,
			expectedStatus: "hit",
		},
		{
			name:           "miss",
			stub:           &stubCache[oauthSession]{},
			expectedStatus: "miss",
		},
		{
			name:           "error",
			stub:           &stubCache[oauthSession]{getErr: fault},
			expectedErr:    fault,
			expectedStatus: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewInstrumented[oauthSession](tt.stub, "redis")

			var (
				value oauthSession
				found bool
				err   error
			)
			attrs := recordSpan(t, func(ctx context.Context) {
				value, found, err = c.Get(ctx, "client-a")
			})

			assert.Equal(t, tt.expectedErr, err)
			assert.Equal(t, tt.expectedFound, found)
			assert.Equal(t, tt.expectedValue, value)
			assert.Equal(t, 1, tt.stub.gets)

			assert.Equal(t, "redis", attrs["cache.type"].AsString())
			assert.Equal(t, tt.expectedStatus, attrs["cache.get.status"].AsString())
			assert.Contains(t, attrs, attribute.Key("cache.get.duration"))
		})
	}
}

func TestInstrumented_Set(t *testing.T) {
	session := oauthSession{AccessToken: "fresh"}

	t.Run("success", func(t *testing.T) {
		stub := &stubCache[oauthSession]{}
		c := NewInstrumented[oauthSession](stub, "memory")

		var err error
		attrs := recordSpan(t, func(ctx context.Context) {
			err = c.Set(ctx, "client-a", session)
		})

		require.NoError(t, err)
		assert.Equal(t, []oauthSession{session}, stub.sets)
		assert.Equal(t, "memory", attrs["cache.type"].AsString())
		assert.Equal(t, "success", attrs["cache.set.status"].AsString())
		assert.NotContains(t, attrs, attribute.Key("cache.get.status"))
	})

	t.Run("error", func(t *testing.T) {
		fault := errors.New("read-only replica")
		stub := &stubCache[oauthSession]{setErr: fault}
		c := NewInstrumented[oauthSession](stub, "memory")

		var err error
		attrs := recordSpan(t, func(ctx context.Context) {
			err = c.Set(ctx, "client-a", session)
		})

		assert.Same(t, fault, err)
		assert.Equal(t, "error", attrs["cache.set.status"].AsString())
	})
}

func TestInstrumented_GetAndSetShareSpan(t *testing.T) {
	stub := &stubCache[oauthSession]{}
	c := NewInstrumented[oauthSession](stub, "memory")

	attrs := recordSpan(t, func(ctx context.Context) {
		_, _, _ = c.Get(ctx, "client-a")
		_ = c.Set(ctx, "client-a", oauthSession{AccessToken: "fresh"})
	})

	assert.Equal(t, "miss", attrs["cache.get.status"].AsString())
	assert.Equal(t, "success", attrs["cache.set.status"].AsString())
}

func TestInstrumented_WithoutSpan(t *testing.T) {
	stub := &stubCache[oauthSession]{value: oauthSession{AccessToken: "abc"}, found: true}
	c := NewInstrumented[oauthSession](stub, "memory")

	value, found, err := c.Get(context.Background(), "client-a")

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "abc", value.AccessToken)
}

func TestInstrumented_Close(t *testing.T) {
	fault := errors.New("close error")

	require.NoError(t, NewInstrumented[oauthSession](&stubCache[oauthSession]{}, "memory").Close())
	assert.Same(t, fault, NewInstrumented[oauthSession](&stubCache[oauthSession]{closeErr: fault}, "memory").Close())
}
