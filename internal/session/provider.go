// Package session attaches a cached session token to outgoing requests and
// refreshes it, once per burst of failures, when the server answers 401.
//
// Sessions are opaque to this package: a Provider knows how to obtain a new
// one and how to read the access token out of it. Sessions are created only
// in response to a 401; a request made before any refresh is sent without
// an Authorization header.
package session

import "context"

// Provider obtains sessions of type T for a single upstream.
type Provider[T any] interface {
	// RefreshSession obtains a new session. It is never called concurrently
	// for the same cache key.
	RefreshSession(ctx context.Context) (T, error)

	// AccessToken extracts the bearer token from a session. An empty token
	// means the session does not authorize requests.
	AccessToken(session T) string
}

// ProviderFuncs adapts a pair of functions to the Provider interface.
type ProviderFuncs[T any] struct {
	Refresh func(ctx context.Context) (T, error)
	Token   func(session T) string
}

func (p ProviderFuncs[T]) RefreshSession(ctx context.Context) (T, error) {
	return p.Refresh(ctx)
}

func (p ProviderFuncs[T]) AccessToken(session T) string {
	return p.Token(session)
}

// RefreshError is returned when a Provider fails to produce a session. It
// unwraps to the provider's error.
type RefreshError struct {
	Key string
	Err error
}

func (e *RefreshError) Error() string {
	return "session refresh failed for " + e.Key + ": " + e.Err.Error()
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}
