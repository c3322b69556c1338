package httpmw

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-demos/internal/log"
	"github.com/keithlinneman/linnemanlabs-demos/internal/mediatype"
)

// accessWriter counts status and bytes, and times how long the handler
// spends blocked writing to the client in a "response.write" child span.
type accessWriter struct {
	http.ResponseWriter
	ctx   context.Context
	start time.Time

	status int
	bytes  int64

	span     trace.Span
	began    bool
	blocked  time.Duration
	writeErr error
}

func (w *accessWriter) begin() {
	if w.began {
		return
	}
	w.began = true
	parent := trace.SpanFromContext(w.ctx)
	if !parent.IsRecording() {
		return
	}
	ttfb := time.Since(w.start)
	_, w.span = parent.TracerProvider().Tracer("linnemanlabs-demos/httpmw").Start(w.ctx, "response.write",
		trace.WithAttributes(attribute.Float64("http.server.ttfb_seconds", ttfb.Seconds())))
}

func (w *accessWriter) end() {
	if w.span == nil {
		return
	}
	w.span.SetAttributes(
		attribute.Int("http.response.status_code", w.code()),
		attribute.Int64("http.response.body.size", w.bytes),
		attribute.Float64("http.server.write.block_seconds", w.blocked.Seconds()),
	)
	if w.writeErr != nil {
		w.span.RecordError(w.writeErr)
		w.span.SetStatus(codes.Error, w.writeErr.Error())
	}
	w.span.End()
}

func (w *accessWriter) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *accessWriter) WriteHeader(code int) {
	w.begin()
	if w.status == 0 {
		w.status = code
	}
	t := time.Now()
	w.ResponseWriter.WriteHeader(code)
	w.blocked += time.Since(t)
}

func (w *accessWriter) Write(b []byte) (int, error) {
	w.begin()
	if w.status == 0 {
		w.status = http.StatusOK
	}
	t := time.Now()
	n, err := w.ResponseWriter.Write(b)
	w.blocked += time.Since(t)
	w.bytes += int64(n)
	if err != nil && w.writeErr == nil {
		w.writeErr = err
	}
	return n, err
}

func (w *accessWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *accessWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("httpmw: response writer does not support hijacking")
}

func (w *accessWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// quietAccess reports requests left out of the access log: probes, and
// static assets that were served without error. Pages, API calls and
// every 4xx/5xx are always logged.
func quietAccess(p string, status int) bool {
	if p == "/-/healthy" || p == "/-/ready" {
		return true
	}
	if status >= 400 {
		return false
	}
	ct := mediatype.ContentType(p)
	return ct != mediatype.HTML && ct != mediatype.Default
}

// AccessLog writes one "http request" line per request through the
// request logger. It must run inside the chi router so the matched route
// and project are known.
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			aw := &accessWriter{ResponseWriter: w, ctx: r.Context(), start: time.Now()}
			next.ServeHTTP(aw, r)
			aw.end()

			status := aw.code()
			if quietAccess(r.URL.Path, status) {
				return
			}

			ctx := r.Context()
			route := "unmatched"
			if rc := chi.RouteContext(ctx); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			var reqBody int64
			if r.ContentLength > 0 {
				reqBody = r.ContentLength
			}
			fields := []any{
				"http.response.status_code", status,
				"http.server.request.duration", time.Since(aw.start).Seconds(),
				"http.response.body.size", aw.bytes,
				"http.request.body.size", reqBody,
				"http.route", route,
			}
			if project := chi.URLParamFromCtx(ctx, "project"); project != "" {
				fields = append(fields, AttrDemoProject, project)
			}
			log.FromContext(ctx).Info(ctx, "http request", fields...)
		})
	}
}
