package httpmw

import (
	"bufio"
	"errors"
	"net"
	"net/http"
)

// Security note: CSRF protection is not implemented because it is not applicable.
// The router is stateless (no cookies, no sessions, no authentication) and read-only (GET/HEAD only).

// DemoCSP is deliberately permissive: demos are arbitrary third-party bundles
// that load from CDNs, inline scripts and eval. Framing is limited to our own origin.
const DemoCSP = "default-src * 'unsafe-inline' 'unsafe-eval' data: blob:; frame-ancestors 'self'"

func setSecurityHeaders(h http.Header) {
	// Disable MIME type sniffing for integrity/security
	h.Set("X-Content-Type-Options", "nosniff")

	// Old clickjacking protection, demos may be embedded by our own pages
	h.Set("X-Frame-Options", "SAMEORIGIN")

	// Referrer policy to control information sent in Referer header
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")

	h.Set("Content-Security-Policy", DemoCSP)
}

// SecurityHeaders is middleware that adds security headers to every response.
// They are set before next runs, so error and panic responses carry them, and
// set again when the response is committed, so next cannot change or drop them.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w.Header())
		sw := &securityWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		// the server writes an implicit 200 for handlers that never write
		sw.commit()
	})
}

type securityWriter struct {
	http.ResponseWriter
	committed bool
}

func (w *securityWriter) commit() {
	if !w.committed {
		w.committed = true
		setSecurityHeaders(w.ResponseWriter.Header())
	}
}

func (w *securityWriter) WriteHeader(code int) {
	// 1xx responses leave the final header still to come
	if code >= 200 {
		w.commit()
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *securityWriter) Write(b []byte) (int, error) {
	w.commit()
	return w.ResponseWriter.Write(b)
}

func (w *securityWriter) Flush() {
	w.commit()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *securityWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("httpmw: response writer does not support hijacking")
}

func (w *securityWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
