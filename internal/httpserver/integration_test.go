package httpserver_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-demos/internal/assets"
	"github.com/keithlinneman/linnemanlabs-demos/internal/catalog"
	"github.com/keithlinneman/linnemanlabs-demos/internal/demohttp"
	"github.com/keithlinneman/linnemanlabs-demos/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-demos/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-demos/internal/log"
	"github.com/keithlinneman/linnemanlabs-demos/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-demos/internal/store"
	"github.com/keithlinneman/linnemanlabs-demos/internal/store/memstore"
)

func newDemoHandler(t *testing.T, limiter *ratelimit.Limiter) http.Handler {
	t.Helper()

	objs := memstore.NewObjects()
	objs.Put("demo-x/index.html", []byte("<!doctype html><title>demo-x</title>"))
	objs.Put("demo-x/app.js", []byte("console.log('demo-x')"))

	meta := memstore.NewMetadata()
	if err := meta.Put(&store.ProjectMetadata{
		Name:        "demo-x",
		Description: "the x demo",
		Updated:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Featured:    true,
	}); err != nil {
		t.Fatalf("seed metadata: %v", err)
	}

	res, err := assets.NewResolver(objs, meta)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	cat, err := catalog.New(meta)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	demos, err := demohttp.New(demohttp.Options{
		Logger:  log.Nop(),
		Assets:  res,
		Catalog: cat,
	})
	if err != nil {
		t.Fatalf("demohttp.New: %v", err)
	}

	opts := httpserver.Options{
		Logger:       log.Nop(),
		UseRecoverMW: true,
		CORS:         &httpmw.CORSOptions{AllowedOrigins: []string{"https://linnemanlabs.com"}},
		Routes:       demos.RegisterRoutes,
	}
	if limiter != nil {
		opts.RateLimitMW = limiter.Middleware
	}
	return httpserver.NewHandler(opts)
}

// TestIntegration_FullStack runs the demo router behind the full middleware
// stack backed by in-memory stores.
func TestIntegration_FullStack(t *testing.T) {
	t.Parallel()

	handler := newDemoHandler(t, nil)

	get := func(t *testing.T, target string) *httptest.ResponseRecorder {
		t.Helper()
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
		req.Header.Set("Origin", "https://linnemanlabs.com")
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("listing", func(t *testing.T) {
		t.Parallel()
		rec := get(t, "/")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		body, _ := io.ReadAll(rec.Body)
		if !strings.Contains(string(body), `href="/demo-x/"`) {
			t.Fatalf("listing missing demo-x link: %q", body)
		}
		if got := rec.Header().Get("Cache-Control"); got != demohttp.ListingCacheControl {
			t.Fatalf("Cache-Control = %q", got)
		}
	})

	t.Run("index with security and cors headers", func(t *testing.T) {
		t.Parallel()
		rec := get(t, "/demo-x/")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		for _, hdr := range []string{"Content-Security-Policy", "X-Content-Type-Options", "X-Frame-Options", "Referrer-Policy", "X-Request-Id"} {
			if rec.Header().Get(hdr) == "" {
				t.Errorf("missing header %s", hdr)
			}
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://linnemanlabs.com" {
			t.Errorf("Access-Control-Allow-Origin = %q", got)
		}
		if got := rec.Header().Get("X-Demo-Name"); got != "demo-x" {
			t.Errorf("X-Demo-Name = %q", got)
		}
	})

	t.Run("static asset", func(t *testing.T) {
		t.Parallel()
		rec := get(t, "/demo-x/app.js")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if got := rec.Header().Get("Content-Type"); got != "application/javascript" {
			t.Fatalf("Content-Type = %q", got)
		}
		if !strings.Contains(rec.Body.String(), "demo-x") {
			t.Fatalf("body = %q", rec.Body.String())
		}
	})

	t.Run("spa fallback", func(t *testing.T) {
		t.Parallel()
		rec := get(t, "/demo-x/dashboard/settings")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if rec.Header().Get("X-SPA-Route") != "true" {
			t.Fatal("X-SPA-Route missing on fallback")
		}
	})

	t.Run("unknown project", func(t *testing.T) {
		t.Parallel()
		rec := get(t, "/nope/")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
		if rec.Header().Get("X-Content-Type-Options") == "" {
			t.Fatal("security headers missing on 404")
		}
	})

	t.Run("post is rejected", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/demo-x/", http.NoBody))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("status = %d, want 405", rec.Code)
		}
		if got := rec.Header().Get("Allow"); got != demohttp.AllowedMethods {
			t.Fatalf("Allow = %q", got)
		}
	})

	t.Run("preflight", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/demo-x/app.js", http.NoBody)
		req.Header.Set("Origin", "https://evil.example")
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "null" {
			t.Fatalf("Access-Control-Allow-Origin = %q, want null", got)
		}
	})
}

func TestIntegration_RateLimited(t *testing.T) {
	t.Parallel()

	handler := newDemoHandler(t, ratelimit.New(2, time.Minute))

	do := func(remote string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/demo-x/app.js", http.NoBody)
		req.RemoteAddr = remote
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := do("203.0.113.7:1000"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}

	rec := do("203.0.113.7:1001")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After missing on 429")
	}
	if rec.Header().Get("X-Content-Type-Options") == "" {
		t.Fatal("security headers missing on 429")
	}

	// a different client still has quota
	if rec := do("198.51.100.9:1000"); rec.Code != http.StatusOK {
		t.Fatalf("other client status = %d, want 200", rec.Code)
	}
}
