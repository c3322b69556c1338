package httpmw

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type clientIPKey struct{}

// ClientIPOptions configures client IP extraction behavior.
type ClientIPOptions struct {
	// TrustedHops is the number of reverse proxies in front of the router.
	// 0 ignores X-Forwarded-For, 1 takes the rightmost entry (single ALB),
	// 2 the second from the right (CDN + ALB) and so on.
	TrustedHops int
}

// ClientIP is ClientIPWithOptions with no trusted proxies.
func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

// ClientIPWithOptions resolves the client address once per request and stores
// it in the context. The rate limiter and pageview tracker key off this value.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractRealClientAddr(r, opts.TrustedHops)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

// dropForwarded removes proxy headers we decided not to trust so nothing
// downstream (scheme detection, pageview urls) can pick them up.
func dropForwarded(r *http.Request) {
	r.Header.Del("X-Forwarded-For")
	r.Header.Del("X-Forwarded-Proto")
}

// extractRealClientAddr returns the peer address unless the peer is a private
// address and TrustedHops > 0, in which case the Nth entry from the right of
// X-Forwarded-For is used. Too few entries fails closed to the peer address.
func extractRealClientAddr(r *http.Request, trustedHops int) string {
	if r.RemoteAddr == "" {
		return "0.0.0.0"
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil {
		return "0.0.0.0"
	}
	peer = peer.Unmap()

	if !peer.IsPrivate() || trustedHops <= 0 {
		dropForwarded(r)
		return peer.String()
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return peer.String()
	}
	parts := strings.Split(xff, ",")
	idx := len(parts) - trustedHops
	if idx < 0 {
		dropForwarded(r)
		return peer.String()
	}
	if candidate, err := netip.ParseAddr(strings.TrimSpace(parts[idx])); err == nil {
		return candidate.Unmap().String()
	}
	return peer.String()
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
