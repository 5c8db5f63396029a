// internal/middleware/security.go
//
// Security headers for JSON API responses.
//
//   • X-Content-Type-Options    –  MIME-sniffing defence
//   • X-Frame-Options           –  API responses are never framed
//   • Content-Security-Policy   –  nothing may load from a JSON body
//   • Referrer-Policy           –  no Referer at all
//   • Cache-Control             –  responses carry tenant data, never cache
//   • Strict-Transport-Security –  only when hsts is true
//
// Notes
// -----
// • Headers are set before next.ServeHTTP so they reach the client; a
//   handler may still overwrite any of them.
// • Two spaces after periods.

package middleware

import "net/http"

// APIHeaders sets security headers on every response.
func APIHeaders(hsts bool) func(http.Handler) http.Handler {
	const (
		hstsVal = "max-age=63072000; includeSubDomains"
		csp     = "default-src 'none'; frame-ancestors 'none'"
		xfo     = "DENY"
		nosn    = "nosniff"
		refer   = "no-referrer"
		cache   = "no-store"
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", nosn)
			h.Set("X-Frame-Options", xfo)
			h.Set("Content-Security-Policy", csp)
			h.Set("Referrer-Policy", refer)
			h.Set("Cache-Control", cache)
			if hsts {
				h.Set("Strict-Transport-Security", hstsVal)
			}
			next.ServeHTTP(w, r)
		})
	}
}
