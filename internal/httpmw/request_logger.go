package httpmw

import (
	"net"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-demos/internal/log"
)

// WithLogger stores a request-scoped logger in the context. Only values the
// server derived itself are attached. Query strings, headers and host names
// stay out of the logs.
func WithLogger(base log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			reqID := RequestIDFromContext(ctx)

			peer := r.RemoteAddr
			if host, _, err := net.SplitHostPort(peer); err == nil {
				peer = host
			}
			client := ClientIPFromContext(ctx)
			if client == "" {
				client = peer
			}
			scheme := schemeFromRequest(r)

			if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
				span.SetAttributes(
					attribute.String("request_id", reqID),
					attribute.String("client.address", client),
					attribute.String("network.peer.address", peer),
					attribute.String("url.scheme", scheme),
				)
			}

			L := base.With(
				"request_id", reqID,
				"client.address", client,
				"network.peer.address", peer,
				"http.request.method", r.Method,
				"url.path", r.URL.Path,
				"url.scheme", scheme,
			)
			next.ServeHTTP(w, r.WithContext(log.WithContext(ctx, L)))
		})
	}
}

// Scope tags the request logger and span with the handler group serving
// the route (listing, api, asset).
func Scope(handler string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := log.WithContext(r.Context(), log.FromContext(r.Context()).With("handler", handler))
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(attribute.String("app.handler", handler))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// schemeFromRequest returns "http" or "https", preferring the first
// X-Forwarded-Proto entry (ClientIP strips it from untrusted peers), then
// the URL, then the TLS state.
func schemeFromRequest(r *http.Request) string {
	valid := func(s string) (string, bool) {
		s = strings.ToLower(strings.TrimSpace(s))
		return s, s == "http" || s == "https"
	}
	if xf := r.Header.Get("X-Forwarded-Proto"); xf != "" {
		first, _, _ := strings.Cut(xf, ",")
		if s, ok := valid(first); ok {
			return s
		}
	}
	if r.URL != nil {
		if s, ok := valid(r.URL.Scheme); ok {
			return s
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
