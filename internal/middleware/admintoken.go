// Package middleware provides the HTTP middleware stack for the scrape
// service: panic recovery, request logging, inbound throttling, CORS,
// per-request timeouts, and the admin-token gate.
package middleware

import (
	"net/http"

	"github.com/mokutsu/mfcscraper-go/internal/config"
	"github.com/mokutsu/mfcscraper-go/internal/security"
)

// AdminToken gates destructive endpoints behind the X-Admin-Token header.
// With no token configured the gated surface answers 503 rather than
// running unauthenticated. Health and metrics paths always pass so probes
// and scrapers keep working when the gate is applied broadly.
//
// The token is accepted from the header only; query parameters land in
// logs and referrers and are no place for a secret.
func AdminToken(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			if cfg.AdminToken == "" {
				writeErrorResponse(w, http.StatusServiceUnavailable, "Admin endpoints disabled: ADMIN_TOKEN not configured")
				return
			}

			token := r.Header.Get("X-Admin-Token")
			if !security.SecureCompare(token, cfg.AdminToken) {
				writeErrorResponse(w, http.StatusUnauthorized, "Invalid or missing admin token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
