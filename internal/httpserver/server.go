package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-demos/internal/health"
	"github.com/keithlinneman/linnemanlabs-demos/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-demos/internal/log"
	"github.com/keithlinneman/linnemanlabs-demos/internal/mediatype"
	"github.com/keithlinneman/linnemanlabs-demos/internal/xerrors"
)

// MaxRequestBody caps request bodies, nothing public accepts one.
const MaxRequestBody = 1024

// shouldTrace decides which requests get traced. Pages (html or extensionless
// SPA routes) are traced, static assets and probes are not.
func shouldTrace(p string) bool {
	switch p {
	case "/favicon.ico", "/favicon.svg", "/robots.txt", "/-/healthy", "/-/ready":
		return false
	}
	ct := mediatype.ContentType(p)
	return ct == mediatype.HTML || ct == mediatype.Default
}

// compressible lists the content types gzip/deflate is applied to.
var compressible = []string{
	"text/html",
	"text/css",
	"application/javascript",
	"text/javascript",
	"application/json",
	"image/svg+xml",
	"image/x-icon",
}

// NewHandler assembles the public handler: the chi router with probes and
// opts.Routes, wrapped in the edge middleware. main owns the *http.Server.
func NewHandler(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Compress(5, compressible...),
		httpmw.AnnotateHTTPRoute,
		httpmw.AccessLog(),
		httpmw.MaxBody(MaxRequestBody),
	)
	if opts.Health != nil {
		r.Get("/-/healthy", health.HealthzHandler(opts.Health))
	}
	if opts.Readiness != nil {
		r.Get("/-/ready", health.ReadyzHandler(opts.Readiness))
	}
	if opts.Routes != nil {
		opts.Routes(r)
	}

	var recoverMW, corsMW func(http.Handler) http.Handler
	if opts.UseRecoverMW {
		recoverMW = httpmw.Recover(opts.Logger, opts.OnPanic)
	}
	if opts.CORS != nil {
		corsMW = httpmw.CORS(*opts.CORS)
	}

	// outermost first. Security headers land on every response including
	// recovered panics. CORS answers preflights before the limiter sees
	// them, and the limiter keys on the address ClientIP resolved.
	return httpmw.Chain(r,
		httpmw.SecurityHeaders,
		recoverMW,
		httpmw.RequestID("X-Request-Id"),
		httpmw.ClientIPWithOptions(opts.ClientIPOpts),
		corsMW,
		opts.RateLimitMW,
		serverSpan,
		httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id"),
		opts.MetricsMW,
		httpmw.WithLogger(opts.Logger),
	)
}

// serverSpan starts the otelhttp server span for pages. The name is a
// placeholder until AnnotateHTTPRoute swaps in the route pattern.
func serverSpan(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool { return shouldTrace(r.URL.Path) }),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string { return r.Method + " " + r.URL.Path }),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)
}

// Server timeout defaults, shared with opshttp.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultShutdownTimeout   = 5 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20 // 1 MB
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// DefaultPort is the public listener port when Options.Port is zero.
const DefaultPort = 8080

// Start serves NewHandler(opts) on opts.Port over IPv4.
// The returned stop drains the server once.
func Start(ctx context.Context, opts Options) (func(context.Context) error, error) {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := fmt.Sprintf(":%d", port)

	handler := NewHandler(opts)
	srv := NewServer(addr, handler)

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp4", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen for site http on %s", addr)
	}

	go func() {
		opts.Logger.Info(ctx, "http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			opts.Logger.Error(ctx, err, "http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			opts.Logger.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, DefaultShutdownTimeout)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
