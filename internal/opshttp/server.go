// Package opshttp runs the private operations listener: probes, /metrics
// and optionally pprof. It is separate from the public demo router and
// refuses peers outside loopback, private and link-local ranges.
package opshttp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"net/netip"
	"sync"

	"github.com/keithlinneman/linnemanlabs-demos/internal/health"
	"github.com/keithlinneman/linnemanlabs-demos/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-demos/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-demos/internal/log"
	"github.com/keithlinneman/linnemanlabs-demos/internal/xerrors"
)

// RegisterPprof mounts the net/http/pprof handlers under /debug/pprof/.
func RegisterPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

// privatePeer reports whether remoteAddr is loopback, RFC 1918/4193 or
// link-local. IPv4-mapped IPv6 peers are judged by their IPv4 address.
func privatePeer(remoteAddr string) (netip.Addr, bool) {
	ap, err := netip.ParseAddrPort(remoteAddr)
	if err != nil {
		return netip.Addr{}, false
	}
	ip := ap.Addr().Unmap()
	return ip, ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}

// privateOnly answers 403 to public or unparseable peers.
func privateOnly(L log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ip, ok := privatePeer(r.RemoteAddr); !ok {
				peer := r.RemoteAddr
				if ip.IsValid() {
					peer = ip.String()
				}
				L.Warn(r.Context(), "ops http rejected peer", "network.peer.address", peer)
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Handler builds the ops mux wrapped in recovery and the private peer guard.
func Handler(L log.Logger, opts *Options) http.Handler {
	if L == nil {
		L = log.Nop()
	}
	mux := http.NewServeMux()

	healthz := health.HealthzHandler(opts.Health)
	readyz := health.ReadyzHandler(opts.Readiness)
	for _, p := range []string{"/healthz", "/-/healthy"} {
		mux.Handle(p, healthz)
	}
	for _, p := range []string{"/readyz", "/-/ready"} {
		mux.Handle(p, readyz)
	}
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	if opts.EnablePprof {
		RegisterPprof(mux)
	} else {
		mux.Handle("/debug/pprof/", http.NotFoundHandler())
	}

	var recoverMW func(http.Handler) http.Handler
	if opts.UseRecoverMW {
		recoverMW = httpmw.Recover(L, opts.OnPanic)
	}
	return httpmw.Chain(mux, privateOnly(L), recoverMW)
}

// Start listens on opts.Port (DefaultPort when zero) and serves Handler in
// the background. The returned stop drains the listener once.
func Start(ctx context.Context, L log.Logger, opts *Options) (func(context.Context) error, error) {
	if L == nil {
		L = log.Nop()
	}
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := fmt.Sprintf(":%d", port)

	srv := httpserver.NewServer(addr, Handler(L, opts))
	// pprof profile and trace stream for up to 30s
	srv.WriteTimeout = 0

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen for ops http on %s", addr)
	}

	go func() {
		L.Info(ctx, "ops http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			L.Error(ctx, err, "ops http server error")
		}
	}()

	var once sync.Once
	var stopErr error
	return func(sctx context.Context) error {
		once.Do(func() {
			L.Info(sctx, "ops http server shutting down")
			c, cancel := context.WithTimeout(sctx, httpserver.DefaultShutdownTimeout)
			defer cancel()
			stopErr = srv.Shutdown(c)
		})
		return stopErr
	}, nil
}
