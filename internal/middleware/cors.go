package middleware

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// CORSConfig holds CORS configuration options.
type CORSConfig struct {
	// AllowedOrigins is the origin allowlist. Empty means any origin is
	// allowed (wildcard, without credentials): the main consumer is a
	// userscript running on the target site's own origin, which cannot be
	// enumerated ahead of time.
	AllowedOrigins []string
}

// CORS adds cross-origin headers. With an allowlist configured, only listed
// origins are echoed back and credentials are permitted; everyone else gets
// no CORS headers and the browser blocks the response. Without one, the
// wildcard is used and credentialed requests stay blocked by the browser
// (wildcard plus credentials is forbidden).
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	allowedSet := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		allowedSet[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			var allowOrigin string
			var allowCredentials bool
			if origin != "" {
				switch {
				case len(allowedSet) == 0:
					allowOrigin = "*"
				default:
					if _, ok := allowedSet[origin]; ok {
						allowOrigin = origin
						allowCredentials = true
					} else {
						log.Debug().Str("origin", origin).Msg("CORS request from non-allowed origin")
					}
				}
			}

			if allowOrigin != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Admin-Token")
				if allowCredentials {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
				// Vary prevents a CDN from serving one origin's answer to
				// another.
				w.Header().Set("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("X-Content-Type-Options", "nosniff")
				w.Header().Set("Cache-Control", "no-store, max-age=0")
				w.Header().Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeaders adds response headers that blunt common web attacks.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")
		// Responses can embed session-derived state; never cache them
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		next.ServeHTTP(w, r)
	})
}
