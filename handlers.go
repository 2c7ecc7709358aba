package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/thomasreuvers/apiease/internal/audit"
	"github.com/thomasreuvers/apiease/internal/client"
	"github.com/thomasreuvers/apiease/internal/retry"
	"github.com/thomasreuvers/apiease/internal/session"
)

// ClientLookup resolves registered clients by name.
type ClientLookup interface {
	Client(name string) (*client.Base, bool)
	Names() []string
}

// hopHeaders are not forwarded in either direction. Authorization and Host
// are also dropped from inbound requests: the client supplies its own.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// handleProxy forwards the request to the client named in the path. The
// remainder of the path and the query are resolved against the client's base
// URL, and the upstream response is relayed to the caller.
func handleProxy(clients ClientLookup) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		name := r.PathValue("client")
		entry := audit.Log(r.Context())
		entry.Client = name

		c, ok := clients.Client(name)
		if !ok {
			entry.Error = "unknown client"
			writeJSONError(w, http.StatusNotFound, "unknown client: "+name)
			return
		}

		ref := r.PathValue("path")
		if r.URL.RawQuery != "" {
			ref += "?" + r.URL.RawQuery
		}

		var body io.Reader
		if r.ContentLength != 0 {
			body = r.Body
		}

		req, err := c.NewRequest(r.Context(), r.Method, ref, body)
		if err != nil {
			log.Ctx(r.Context()).Info().Err(err).Msg("invalid proxy request")
			entry.Error = err.Error()
			writeJSONError(w, http.StatusBadRequest, "invalid request path")
			return
		}
		req.Header = forwardHeaders(r.Header)
		req.Header.Del("Authorization")

		resp, err := c.Do(r.Context(), req)
		if err != nil {
			status, message := errorStatus(err)
			log.Ctx(r.Context()).Info().Err(err).Str("client", c.Name()).Msg("upstream request failed")
			entry.UpstreamError = err.Error()
			if status, ok := upstreamStatus(err); ok {
				entry.UpstreamStatus = status
			}
			relayError(w, err, status, message)
			return
		}
		if resp == nil {
			// the client's exception hook handled the fault
			w.WriteHeader(http.StatusNoContent)
			return
		}
		defer resp.Body.Close()

		entry.UpstreamStatus = resp.StatusCode

		for k, v := range forwardHeaders(resp.Header) {
			w.Header()[k] = v
		}
		w.WriteHeader(resp.StatusCode)

		if _, err := io.Copy(w, resp.Body); err != nil {
			// the status has been written: all that can be done is record it
			log.Ctx(r.Context()).Info().Err(err).Msg("failed to relay response body")
		}
	})
}

// relayError writes the response for a failed upstream call. Upstream status
// faults are relayed with their body; everything else becomes a JSON error.
func relayError(w http.ResponseWriter, err error, status int, message string) {
	var statusErr *client.StatusError
	if errors.As(err, &statusErr) {
		if ct := statusErr.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(statusErr.StatusCode)
		_, _ = w.Write(statusErr.Body)
		return
	}

	writeJSONError(w, status, message)
}

// errorStatus maps an upstream failure to the status returned to the caller.
func errorStatus(err error) (int, string) {
	var statusErr *client.StatusError
	var refreshErr *session.RefreshError
	var sizeErr *http.MaxBytesError

	switch {
	case errors.As(err, &statusErr):
		return statusErr.StatusCode, statusErr.Status
	case errors.As(err, &sizeErr):
		return http.StatusRequestEntityTooLarge, http.StatusText(http.StatusRequestEntityTooLarge)
	case errors.Is(err, retry.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "upstream unavailable"
	case errors.As(err, &refreshErr):
		return http.StatusBadGateway, "upstream authentication failed"
	default:
		return http.StatusBadGateway, http.StatusText(http.StatusBadGateway)
	}
}

func upstreamStatus(err error) (int, bool) {
	var statusErr *client.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode, true
	}
	return 0, false
}

func forwardHeaders(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		out = http.Header{}
	}
	for _, k := range hopHeaders {
		out.Del(k)
	}
	out.Del("Host")
	return out
}

// ClientsResponse lists the registered clients.
type ClientsResponse struct {
	Clients []string `json:"clients"`
}

func handleListClients(clients ClientLookup) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(ClientsResponse{Clients: clients.Names()}); err != nil {
			log.Info().Msgf("failed to write response: %v\n", err)
		}
	})
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{Error: message}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		// At this point the status code has been written, so we can only log
		log.Info().Msgf("failed to write JSON error response: %v", err)
	}
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5MB max: after this we'll assume the client is broken or malicious
		// and close the connection
		io.CopyN(io.Discard, r.Body, 5*1024*1024)
	}
}
