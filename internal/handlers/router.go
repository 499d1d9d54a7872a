package handlers

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mokutsu/mfcscraper-go/internal/middleware"
)

// readTimeout bounds the sync read endpoints. The mutating endpoints
// finish under the queue mutex and need no watchdog.
const readTimeout = 15 * time.Second

// Routes builds the service mux. The reset routes are admin-token gated
// and, in production mode, not registered at all.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.handleHealth)

	// The target wildcard spans segments so both bare fingerprints and
	// full item URLs route here.
	mux.HandleFunc("POST /scrape/{target...}", h.handleScrape)
	mux.HandleFunc("DELETE /scrape/{fingerprint}", h.handleCancel)

	read := middleware.Timeout(readTimeout)
	mux.Handle("GET /sync/queue/stats", read(http.HandlerFunc(h.handleQueueStats)))
	mux.Handle("GET /sync/sessions", read(http.HandlerFunc(h.handleSessions)))

	// The diagnose probe may legitimately run for the full probe timeout.
	diagnose := middleware.Timeout(h.cfg.ProbeTimeout + 5*time.Second)
	mux.Handle("GET /sync/sessions/{id}/diagnose", diagnose(http.HandlerFunc(h.handleDiagnoseSession)))

	mux.HandleFunc("POST /sync/sessions/{id}/resume", h.handleResumeSession)
	mux.HandleFunc("POST /sync/sessions/{id}/cancel-failed", h.handleCancelFailed)
	mux.HandleFunc("DELETE /sync/sessions/{id}", h.handleRemoveSession)

	if h.cfg.ProductionMode {
		log.Info().Msg("Production mode: reset endpoints not registered")
		return mux
	}

	admin := middleware.AdminToken(h.cfg)
	mux.Handle("POST /reset-pool", admin(http.HandlerFunc(h.handleResetPool)))
	mux.Handle("POST /sync/queue/reset", admin(http.HandlerFunc(h.handleResetQueue)))
	return mux
}
