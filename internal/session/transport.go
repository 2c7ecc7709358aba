package session

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/thomasreuvers/apiease/internal/authheader"
)

// Transport attaches the cached session token to outgoing requests and, when
// the server answers 401, refreshes the session and re-sends the request
// once with the new token.
type Transport[T any] struct {
	key      string
	store    *Store[T]
	provider Provider[T]
	base     http.RoundTripper
}

type transportOptions struct {
	base http.RoundTripper
}

type TransportOption func(*transportOptions)

// WithBase sets the transport that requests are sent through. Defaults to
// http.DefaultTransport.
func WithBase(base http.RoundTripper) TransportOption {
	return func(o *transportOptions) {
		if base != nil {
			o.base = base
		}
	}
}

// NewTransport creates a Transport for the session stored under key.
// Transports sharing a store and key share a session.
func NewTransport[T any](key string, store *Store[T], provider Provider[T], opts ...TransportOption) *Transport[T] {
	o := transportOptions{base: http.DefaultTransport}
	for _, opt := range opts {
		opt(&o)
	}

	return &Transport[T]{
		key:      key,
		store:    store,
		provider: provider,
		base:     o.base,
	}
}

func (t *Transport[T]) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	out, err := replayable(req)
	if err != nil {
		return nil, err
	}

	sent := t.token(out)

	resp, err := t.base.RoundTrip(out)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	log.Ctx(ctx).Debug().Str("key", t.key).Str("host", req.URL.Host).Msg("request unauthorized, refreshing session")

	session, err := t.store.Refresh(ctx, t.key, t.provider, sent)
	if err != nil {
		discard(resp)
		return nil, err
	}

	value, ok := authheader.Bearer(t.provider.AccessToken(session))
	if !ok {
		// nothing to retry with: the caller sees the server's answer
		log.Ctx(ctx).Warn().Str("key", t.key).Msg("refreshed session has no access token")
		return resp, nil
	}

	resend, err := rewind(out)
	if err != nil {
		discard(resp)
		return nil, err
	}
	resend.Header.Set(authheader.HeaderName, value)

	discard(resp)

	return t.base.RoundTrip(resend)
}

// token sets the Authorization header of req from the cached session and
// returns the token sent, or "" when the request goes out without one.
func (t *Transport[T]) token(req *http.Request) string {
	session, found := t.store.Current(req.Context(), t.key)
	if found {
		token := t.provider.AccessToken(session)
		if value, ok := authheader.Bearer(token); ok {
			req.Header.Set(authheader.HeaderName, value)
			return token
		}
	}

	req.Header.Del(authheader.HeaderName)
	return ""
}

// replayable clones req so that it can be sent twice. Bodies without GetBody
// are buffered.
func replayable(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())

	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return out, nil
	}

	body, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("could not buffer request body: %w", err)
	}

	out.Body = io.NopCloser(bytes.NewReader(body))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	return out, nil
}

func rewind(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())

	if req.Body == nil || req.Body == http.NoBody {
		return out, nil
	}

	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("could not replay request body: %w", err)
	}
	out.Body = body

	return out, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
