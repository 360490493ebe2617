package mw

import (
	"net/http"
	"strings"
)

var exposedHeaders = strings.Join([]string{
	"ETag",
	"Retry-After",
	"X-Feed-Updated-At",
	"X-Feed-Staleness-Ms",
	"X-Feed-Stale",
	"X-Feed-Warning",
	"X-Feed-Error",
}, ", ")

// CORS allows read-only cross-origin access so map clients hosted elsewhere
// can poll positions and read the feed headers.
func CORS() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Expose-Headers", exposedHeaders)

			// Preflight
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "If-None-Match, Content-Type")
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
