package observe

import (
	"net/http"
	"slices"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Mux is a ServeMux whose routes record server telemetry. Spans are named
// after the route pattern rather than the concrete path, so proxied paths
// do not explode span cardinality.
type Mux struct {
	wrapped *http.ServeMux
}

func NewMux() *Mux {
	return &Mux{
		wrapped: http.NewServeMux(),
	}
}

// Handle registers a traced route.
func (mux *Mux) Handle(pattern string, handler http.Handler) {
	route := RouteName(pattern)

	taggedHandler := otelhttp.NewHandler(
		handler,
		route,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + route
		}),
	)

	mux.wrapped.Handle(pattern, taggedHandler)
}

// HandleUntraced registers a route without telemetry, for probes.
func (mux *Mux) HandleUntraced(pattern string, handler http.Handler) {
	mux.wrapped.Handle(pattern, handler)
}

func (mux *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux.wrapped.ServeHTTP(w, r)
}

var methods = []string{
	http.MethodConnect,
	http.MethodDelete,
	http.MethodGet,
	http.MethodHead,
	http.MethodOptions,
	http.MethodPatch,
	http.MethodPost,
	http.MethodPut,
	http.MethodTrace,
}

// RouteName converts a ServeMux pattern to a route name: the method prefix
// is dropped, along with the "..." suffix of a trailing wildcard.
func RouteName(pattern string) string {
	route := pattern
	method, resource, hasMethod := strings.Cut(pattern, " ")
	if hasMethod && slices.Contains(methods, method) {
		route = resource
	}

	return strings.ReplaceAll(route, "...}", "}")
}
