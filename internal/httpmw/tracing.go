package httpmw

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AttrDemoProject is set on the server span for requests routed to a project.
const AttrDemoProject = "demo.project"

// AnnotateHTTPRoute renames the server span to "METHOD pattern" once chi has
// matched a route and records http.route plus the demo project, if any.
// Raw paths are never used as span names, every SPA route would be unique.
func AnnotateHTTPRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		span := trace.SpanFromContext(r.Context())
		if !span.IsRecording() {
			return
		}

		pattern, project := "unmatched", ""
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				pattern = p
			}
			project = rc.URLParam("project")
		}

		attrs := []attribute.KeyValue{attribute.String("http.route", pattern)}
		if project != "" {
			attrs = append(attrs, attribute.String(AttrDemoProject, project))
		}
		span.SetAttributes(attrs...)
		span.SetName(r.Method + " " + pattern)
	})
}

// TraceResponseHeaders echoes the trace and span ids of a sampled request so
// a failing asset can be looked up from browser devtools.
func TraceResponseHeaders(traceHeader, spanHeader string) func(http.Handler) http.Handler {
	if traceHeader == "" {
		traceHeader = "X-Trace-Id"
	}
	if spanHeader == "" {
		spanHeader = "X-Span-Id"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() && sc.IsSampled() {
				w.Header().Set(traceHeader, sc.TraceID().String())
				w.Header().Set(spanHeader, sc.SpanID().String())
			}
			next.ServeHTTP(w, r)
		})
	}
}
