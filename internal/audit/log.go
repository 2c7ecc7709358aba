// Package audit writes one structured log entry for every proxied request,
// describing the caller's request and the upstream exchange that served it.
package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is the level at which audit entries are written. It is above every
// standard level, so audit entries are written whatever the logger's level.
const Level = zerolog.Level(20)

// RequestIDHeader carries the request ID, accepted from callers and echoed
// in responses.
const RequestIDHeader = "X-Request-Id"

// Entry is the audit record of a single request.
type Entry struct {
	RequestID string
	Method    string
	Path      string
	UserAgent string
	SourceIP  string
	Status    int
	Duration  time.Duration
	Error     string

	// upstream details are set by the proxy handler
	Client         string
	UpstreamStatus int
	UpstreamError  string
}

func (e *Entry) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("request_id", e.RequestID).
		Str("method", e.Method).
		Str("path", e.Path).
		Str("user_agent", e.UserAgent).
		Str("source_ip", e.SourceIP).
		Int("status", e.Status).
		Dur("duration", e.Duration)

	if e.Error != "" {
		ev.Str("error", e.Error)
	}

	NewOptionalEvent(nil).
		Str("client", e.Client).
		Int("status", e.UpstreamStatus).
		Str("error", e.UpstreamError).
		Set(ev, "upstream")
}

type contextKey struct{}

// Log returns the audit entry for the request context. Outside the
// middleware a detached entry is returned, so callers need not check.
func Log(ctx context.Context) *Entry {
	if e, ok := ctx.Value(contextKey{}).(*Entry); ok {
		return e
	}
	return &Entry{}
}

// Context returns a context carrying a new audit entry.
func Context(ctx context.Context) (context.Context, *Entry) {
	e := &Entry{}
	return context.WithValue(ctx, contextKey{}, e), e
}

// Middleware records an audit entry for each request and writes it once the
// handler returns. The request ID is taken from the X-Request-Id header when
// present, generated otherwise, and added to the request's logger.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx, entry := Context(r.Context())

			entry.RequestID = r.Header.Get(RequestIDHeader)
			if entry.RequestID == "" {
				entry.RequestID = uuid.NewString()
			}
			entry.Method = r.Method
			entry.Path = r.URL.Path
			entry.UserAgent = r.UserAgent()
			entry.SourceIP = r.RemoteAddr

			logger := log.Ctx(ctx).With().Str("request_id", entry.RequestID).Logger()
			ctx = logger.WithContext(ctx)

			w.Header().Set(RequestIDHeader, entry.RequestID)
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			defer func() {
				if r := recover(); r != nil {
					entry.Error = "panic while handling request"
					entry.Status = http.StatusInternalServerError
					write(ctx, entry, start)
					panic(r)
				}

				entry.Status = recorder.status
				write(ctx, entry, start)
			}()

			next.ServeHTTP(recorder, r.WithContext(ctx))
		})
	}
}

func write(ctx context.Context, entry *Entry, start time.Time) {
	entry.Duration = time.Since(start)
	zerolog.Ctx(ctx).WithLevel(Level).EmbedObject(entry).Msg("audit_event")
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(status int) {
	if !s.wroteHeader {
		s.status = status
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
