package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serveRequestID(t *testing.T, header, inbound string) (echoed, inCtx string) {
	t.Helper()
	h := RequestID(header)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inCtx = RequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/demo-x/", nil)
	name := header
	if name == "" {
		name = "X-Request-Id"
	}
	if inbound != "" {
		req.Header.Set(name, inbound)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Header().Get(name), inCtx
}

func TestRequestIDContext(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("empty ctx = %q", got)
	}
	ctx := WithRequestID(context.Background(), "abc")
	if got := RequestIDFromContext(ctx); got != "abc" {
		t.Fatalf("got %q, want abc", got)
	}
	if WithRequestID(ctx, "") != ctx {
		t.Fatal("empty id should return ctx unchanged")
	}
}

func TestRequestID_Generated(t *testing.T) {
	echoed, inCtx := serveRequestID(t, "", "")
	if len(echoed) != 32 {
		t.Fatalf("generated id %q, want 32 hex chars", echoed)
	}
	if inCtx != echoed {
		t.Fatalf("context id %q != response id %q", inCtx, echoed)
	}
}

func TestRequestID_Propagated(t *testing.T) {
	for _, id := range []string{
		"upstream-abc-123",
		"Root=1-67891233-abcdef012345678912345678",
		"0af7651916cd43dd8448eb211c80319c",
	} {
		echoed, inCtx := serveRequestID(t, "", id)
		if echoed != id || inCtx != id {
			t.Errorf("id %q: echoed=%q ctx=%q", id, echoed, inCtx)
		}
	}
}

func TestRequestID_ReplacesUnsafe(t *testing.T) {
	for _, id := range []string{
		"has space",
		"line\nbreak",
		`quote"d`,
		strings.Repeat("a", MaxRequestIDLen+1),
	} {
		echoed, _ := serveRequestID(t, "", id)
		if echoed == id || len(echoed) != 32 {
			t.Errorf("id %q was not replaced, got %q", id, echoed)
		}
	}
}

func TestRequestID_CustomHeader(t *testing.T) {
	echoed, inCtx := serveRequestID(t, "X-Correlation-Id", "corr-1")
	if echoed != "corr-1" || inCtx != "corr-1" {
		t.Fatalf("echoed=%q ctx=%q", echoed, inCtx)
	}
}

func TestRequestID_UniquePerRequest(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id, _ := serveRequestID(t, "", "")
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
