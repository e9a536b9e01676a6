package observe

import (
	"net/http"
	"slices"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Multiplexer is the subset of http.ServeMux that Mux decorates.
type Multiplexer interface {
	Handle(pattern string, handler http.Handler)
	http.Handler
}

// Mux registers every route with an otelhttp handler so that requests are
// traced and measured under their route pattern rather than the raw path.
// Account keys and proxied API paths therefore never become span names.
type Mux struct {
	wrapped Multiplexer
}

func NewMux(wrapped Multiplexer) *Mux {
	return &Mux{wrapped: wrapped}
}

func (mux *Mux) Handle(pattern string, handler http.Handler) {
	route := RouteName(pattern)

	mux.wrapped.Handle(pattern, otelhttp.NewHandler(
		handler,
		route,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + route
		}),
	))
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

// RouteName strips a leading method from a ServeMux pattern, leaving the path
// template.
func RouteName(pattern string) string {
	method, route, hasMethod := strings.Cut(pattern, " ")
	if hasMethod && slices.Contains(methods, method) {
		return route
	}
	return pattern
}
