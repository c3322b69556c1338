package health

import "net/http"

// HealthzHandler serves liveness: 200 "ok" or 503 with the failure reason.
func HealthzHandler(p Probe) http.HandlerFunc { return serveProbe(p, "ok\n") }

// ReadyzHandler serves readiness: 200 "ready" or 503 with the failure reason.
func ReadyzHandler(p Probe) http.HandlerFunc { return serveProbe(p, "ready\n") }

func serveProbe(p Probe, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}
}
