// Package client builds typed API clients from settings sections, each with
// its authentication transport and resilience policy installed.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/thomasreuvers/apiease/internal/retry"
	"github.com/thomasreuvers/apiease/internal/session"
)

// maxErrorBody bounds the response body retained in a StatusError.
const maxErrorBody = 64 << 10

// StatusError is returned for responses that a policy may retry (5xx and
// 429) and, from DoJSON, for any unsuccessful response.
type StatusError struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected response status %s", e.Status)
}

// Retryable reports whether the status indicates a transient upstream fault.
func (e *StatusError) Retryable() bool {
	return retryableStatus(e.StatusCode)
}

func retryableStatus(code int) bool {
	return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
}

// Base is the shared core of a typed API client: requests are resolved
// against the configured base URL, sent through the authenticating
// transport, and executed under the client's policy.
type Base struct {
	name     string
	baseURL  *url.URL
	http     *http.Client
	executor *retry.Executor
}

// NewBase creates a Base sending requests through transport.
func NewBase(name, baseURL string, transport http.RoundTripper, executor *retry.Executor) (*Base, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL for client %s: %w", name, err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	if executor == nil {
		executor = retry.New(retry.NoOp)
	}

	return &Base{
		name:     name,
		baseURL:  u,
		http:     &http.Client{Transport: transport},
		executor: executor,
	}, nil
}

func (b *Base) Name() string { return b.name }

// BaseURL returns a copy of the client's base URL.
func (b *Base) BaseURL() *url.URL {
	u := *b.baseURL
	return &u
}

// HTTPClient returns the client's underlying HTTP client. Requests made with
// it are authenticated but bypass the policy.
func (b *Base) HTTPClient() *http.Client { return b.http }

// Executor returns the executor wrapping the client's policy, for typed
// clients that issue requests through another library.
func (b *Base) Executor() *retry.Executor { return b.executor }

// NewRequest creates a request for ref, resolved against the base URL.
// Absolute references are rejected unless they share the base URL's host.
func (b *Base) NewRequest(ctx context.Context, method, ref string, body io.Reader) (*http.Request, error) {
	rel, err := url.Parse(strings.TrimPrefix(ref, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", ref, err)
	}

	u := b.baseURL.ResolveReference(rel)
	if u.Host != b.baseURL.Host {
		return nil, fmt.Errorf("request path %q leaves the base URL of client %s", ref, b.name)
	}

	return http.NewRequestWithContext(ctx, method, u.String(), body)
}

// Do sends req under the client's policy. Each attempt sends a fresh copy of
// the request. Responses with a 5xx or 429 status are closed and returned as
// a *StatusError so the policy can retry them; every other response is
// returned to the caller, who must close its body. When the policy's
// exception hook swallows a fault, both results are nil.
func (b *Base) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	attempt := 0
	return retry.Execute(ctx, b.executor, func(ctx context.Context) (*http.Response, error) {
		attempt++

		out, err := cloneRequest(ctx, req)
		if err != nil {
			return nil, retry.Permanent(err)
		}

		start := time.Now()
		resp, err := b.http.Do(out)
		if err != nil {
			// a session that cannot be refreshed will not recover on retry
			var refreshErr *session.RefreshError
			if errors.As(err, &refreshErr) {
				return nil, retry.Permanent(err)
			}
			return nil, err
		}

		log.Ctx(ctx).Debug().
			Str("client", b.name).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", resp.StatusCode).
			Int("attempt", attempt).
			Dur("duration", time.Since(start)).
			Msg("request complete")

		if retryableStatus(resp.StatusCode) {
			return nil, newStatusError(resp)
		}

		return resp, nil
	})
}

// DoJSON sends in (when non-nil) as a JSON body and decodes a successful
// response into out (when non-nil). Unsuccessful responses are returned as a
// *StatusError; only 5xx and 429 are retried.
func (b *Base) DoJSON(ctx context.Context, method, ref string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("could not encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := b.NewRequest(ctx, method, ref, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.Do(ctx, req)
	if err != nil {
		return err
	}
	if resp == nil {
		// the exception hook swallowed a fault
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("could not decode response from %s: %w", b.name, err)
	}

	return nil
}

// newStatusError builds a StatusError for resp, reading and closing its
// body.
func newStatusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()

	return &StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       body,
	}
}

func bufferBody(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return req, nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("could not buffer request body: %w", err)
	}

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(data))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	out.ContentLength = int64(len(data))

	return out, nil
}

func cloneRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	out := req.Clone(ctx)

	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("could not replay request body: %w", err)
		}
		out.Body = body
	}

	return out, nil
}
