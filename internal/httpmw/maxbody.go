package httpmw

import "net/http"

// MaxBody caps request bodies at n bytes. A declared Content-Length over the
// cap is answered with 413 before next runs. Chunked bodies are cut off by
// http.MaxBytesReader on read.
func MaxBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > n {
				w.Header().Set("Cache-Control", "no-store")
				http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
