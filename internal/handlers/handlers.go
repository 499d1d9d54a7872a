// Package handlers implements the HTTP surface of the scraper: scrape
// submission and cancellation, the sync endpoints the userscript polls,
// session recovery actions, and service health.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mokutsu/mfcscraper-go/internal/browser"
	"github.com/mokutsu/mfcscraper-go/internal/config"
	"github.com/mokutsu/mfcscraper-go/internal/queue"
	"github.com/mokutsu/mfcscraper-go/internal/security"
	"github.com/mokutsu/mfcscraper-go/internal/session"
	"github.com/mokutsu/mfcscraper-go/internal/stats"
	"github.com/mokutsu/mfcscraper-go/internal/types"
	"github.com/mokutsu/mfcscraper-go/pkg/version"
)

const (
	// maxBodySize caps submission bodies. The cookie bag is the only field
	// of real size and the cookie validator bounds it far below this.
	maxBodySize = 1 << 20 // 1MB

	// defaultWaitTimeout is how long a wait=true submission holds its
	// connection before falling back to the async 202 contract.
	defaultWaitTimeout = 60 * time.Second
	// maxWaitTimeout caps client-requested wait times.
	maxWaitTimeout = 5 * time.Minute
)

// Handler serves the scrape API over the queue, session manager and
// browser pool it is constructed with.
type Handler struct {
	pool     *browser.Pool
	sessions *session.Manager
	queue    *queue.Queue
	tracker  *stats.Tracker
	cfg      *config.Config

	startedAt time.Time
}

// New creates a Handler. The tracker must be the same one the queue
// records outcomes into; the stats endpoint reads it.
func New(pool *browser.Pool, sessions *session.Manager, q *queue.Queue, tracker *stats.Tracker, cfg *config.Config) *Handler {
	return &Handler{
		pool:      pool,
		sessions:  sessions,
		queue:     q,
		tracker:   tracker,
		cfg:       cfg,
		startedAt: time.Now(),
	}
}

// scrapeRequest is the POST /scrape/{target} body. Every field is
// optional; an empty body queues an anonymous WARM scrape.
type scrapeRequest struct {
	types.EnqueueOptions
	// Wait holds the connection open until the item resolves and returns
	// the record inline instead of the async acknowledgement.
	Wait bool `json:"wait,omitempty"`
	// WaitTimeoutMs overrides the default wait cap, bounded by maxWaitTimeout.
	WaitTimeoutMs int `json:"waitTimeoutMs,omitempty"`
}

// scrapeResponse is the wait=true success body.
type scrapeResponse struct {
	ID           string        `json:"id"`
	Deduplicated bool          `json:"deduplicated"`
	Record       *types.Record `json:"record"`
}

// queueStatsResponse joins the queue snapshot with the rolling scrape
// statistics; the terminal monitor and the userscript poll it.
type queueStatsResponse struct {
	Queue   queue.Stats    `json:"queue"`
	Scrapes stats.Snapshot `json:"scrapes"`
}

type sessionsResponse struct {
	Sessions []session.Snapshot `json:"sessions"`
	Count    int                `json:"count"`
}

type healthResponse struct {
	Status   string         `json:"status"`
	Version  string         `json:"version"`
	Uptime   string         `json:"uptime"`
	Pool     browser.Health `json:"pool"`
	Queue    queue.Stats    `json:"queue"`
	Sessions int            `json:"sessions"`
}

// ackResponse acknowledges a state-changing call. Cancelled carries the
// number of queue items the call removed, where that applies.
type ackResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Cancelled int    `json:"cancelled,omitempty"`
}

// errorResponse mirrors the middleware error shape, with the scrape
// failure kind attached when one is known.
type errorResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Kind    types.ErrorKind `json:"kind,omitempty"`
	Version string          `json:"version"`
}

// handleScrape accepts a scrape submission. The path carries the target:
// a bare numeric fingerprint or an item URL on the scrape domain
// (URL-encoded when it contains a scheme).
func (h *Handler) handleScrape(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(r.PathValue("target"))

	// Path cleaning in proxies or the mux collapses the scheme's double
	// slash; restore it so URL targets survive either form.
	if after, ok := strings.CutPrefix(target, "https:/"); ok && !strings.HasPrefix(after, "/") {
		target = "https://" + after
	} else if after, ok := strings.CutPrefix(target, "http:/"); ok && !strings.HasPrefix(after, "/") {
		target = "http://" + after
	}

	fingerprint, err := security.ExtractFingerprint(target, h.cfg.TargetDomain)
	if err != nil {
		log.Warn().
			Err(err).
			Str("target", security.SanitizeForLog(security.RedactURL(target))).
			Msg("Rejected scrape target")
		h.writeError(w, http.StatusBadRequest, "Invalid scrape target: "+err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	buf := getRequestBuffer()
	defer putRequestBuffer(buf)

	if _, err := io.Copy(buf, r.Body); err != nil {
		log.Warn().Err(err).Msg("Failed to read scrape request body")
		h.writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	var req scrapeRequest
	if buf.Len() > 0 {
		if err := json.Unmarshal(buf.Bytes(), &req); err != nil {
			log.Warn().Err(err).Msg("Failed to decode scrape request")
			h.writeError(w, http.StatusBadRequest, "Invalid JSON body: "+err.Error())
			return
		}
	}
	if req.Status != "" && !req.Status.Valid() {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q (want owned, ordered or wished)", req.Status))
		return
	}

	res, err := h.queue.Enqueue(fingerprint, req.EnqueueOptions)
	if err != nil {
		if errors.Is(err, types.ErrQueueClosed) {
			h.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !req.Wait {
		h.writeJSON(w, http.StatusAccepted, res)
		return
	}

	waitFor := defaultWaitTimeout
	if req.WaitTimeoutMs > 0 {
		waitFor = time.Duration(req.WaitTimeoutMs) * time.Millisecond
		if waitFor > maxWaitTimeout {
			waitFor = maxWaitTimeout
		}
	}

	timer := time.NewTimer(waitFor)
	defer timer.Stop()

	select {
	case out := <-res.Done:
		if out.Err != nil {
			kind := types.KindOf(out.Err)
			h.writeErrorKind(w, kindStatus(kind), kind, out.Err.Error())
			return
		}
		h.writeJSON(w, http.StatusOK, scrapeResponse{
			ID:           res.ID,
			Deduplicated: res.Deduplicated,
			Record:       out.Record,
		})
	case <-timer.C:
		// Still queued; hand the caller the async contract instead.
		h.writeJSON(w, http.StatusAccepted, res)
	case <-r.Context().Done():
		log.Debug().Str("fingerprint", fingerprint).Msg("Waiting client disconnected")
	}
}

// handleCancel removes a queued item by fingerprint.
func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	fingerprint := r.PathValue("fingerprint")
	if !security.ValidFingerprint(fingerprint) {
		h.writeError(w, http.StatusBadRequest, "Invalid item fingerprint")
		return
	}
	if !h.queue.Cancel(fingerprint) {
		h.writeError(w, http.StatusNotFound, "No pending item for fingerprint "+fingerprint)
		return
	}
	h.writeJSON(w, http.StatusOK, ackResponse{Status: "ok", Message: "item cancelled"})
}

func (h *Handler) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, queueStatsResponse{
		Queue:   h.queue.Stats(),
		Scrapes: h.tracker.Snapshot(),
	})
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	snaps := h.sessions.Sessions()
	h.writeJSON(w, http.StatusOK, sessionsResponse{Sessions: snaps, Count: len(snaps)})
}

// handleDiagnoseSession probes whether a session's failures are
// site-wide or credential-specific.
func (h *Handler) handleDiagnoseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if msg := security.ValidateSessionID(id); msg != "" {
		h.writeError(w, http.StatusBadRequest, msg)
		return
	}

	diag, err := h.sessions.Diagnose(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "Diagnosis failed: "+err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, diag)
}

// handleResumeSession clears a session's pause and failure state and
// wakes the queue so its items dispatch again. Idempotent.
func (h *Handler) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if msg := security.ValidateSessionID(id); msg != "" {
		h.writeError(w, http.StatusBadRequest, msg)
		return
	}

	h.sessions.Resume(id)
	h.queue.Kick()
	h.writeJSON(w, http.StatusOK, ackResponse{Status: "ok", Message: "session resumed"})
}

// handleCancelFailed cancels the items that failed for a session and
// resumes it, leaving its untouched items queued.
func (h *Handler) handleCancelFailed(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if msg := security.ValidateSessionID(id); msg != "" {
		h.writeError(w, http.StatusBadRequest, msg)
		return
	}

	n := h.queue.CancelFailedItems(id)
	h.writeJSON(w, http.StatusOK, ackResponse{Status: "ok", Message: "failed items cancelled", Cancelled: n})
}

// handleRemoveSession cancels everything queued for a session and drops
// its tracked state. CancelAllForSession removes the session itself.
func (h *Handler) handleRemoveSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if msg := security.ValidateSessionID(id); msg != "" {
		h.writeError(w, http.StatusBadRequest, msg)
		return
	}

	n := h.queue.CancelAllForSession(id)
	h.writeJSON(w, http.StatusOK, ackResponse{Status: "ok", Message: "session removed", Cancelled: n})
}

// handleHealth reports pool, queue and session state. Degraded (no
// initialized pool, or every browser disconnected) answers 503 so load
// balancer checks fail over.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	pool := h.pool.Health()

	status := "ok"
	code := http.StatusOK
	if !pool.Initialized || pool.Connected == 0 {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	h.writeJSON(w, code, healthResponse{
		Status:   status,
		Version:  version.Full(),
		Uptime:   time.Since(h.startedAt).Round(time.Second).String(),
		Pool:     pool,
		Queue:    h.queue.Stats(),
		Sessions: h.sessions.Count(),
	})
}

// handleResetPool tears down and relaunches every pooled browser.
func (h *Handler) handleResetPool(w http.ResponseWriter, r *http.Request) {
	log.Warn().Msg("Browser pool reset requested")

	h.pool.CloseAll()
	if err := h.pool.Initialize(r.Context()); err != nil {
		h.writeError(w, http.StatusInternalServerError, "Pool reinitialization failed: "+err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, ackResponse{Status: "ok", Message: "browser pool reset"})
}

// handleResetQueue empties the queue, rejecting every pending subscriber,
// and zeroes the rolling scrape statistics.
func (h *Handler) handleResetQueue(w http.ResponseWriter, r *http.Request) {
	n := h.queue.Clear()
	h.tracker.Reset()
	h.writeJSON(w, http.StatusOK, ackResponse{Status: "ok", Message: "queue cleared", Cancelled: n})
}

// kindStatus maps a scrape failure kind to the HTTP status a waiting
// submitter receives.
func kindStatus(kind types.ErrorKind) int {
	switch kind {
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindAuthRequired:
		return http.StatusUnauthorized
	case types.KindItemNotAccessible:
		return http.StatusForbidden
	case types.KindCancelled:
		return http.StatusConflict
	case types.KindRateLimited:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (h *Handler) writeError(w http.ResponseWriter, statusCode int, message string) {
	h.writeErrorKind(w, statusCode, "", message)
}

func (h *Handler) writeErrorKind(w http.ResponseWriter, statusCode int, kind types.ErrorKind, message string) {
	h.writeJSON(w, statusCode, errorResponse{
		Status:  "error",
		Message: message,
		Kind:    kind,
		Version: version.Full(),
	})
}

// writeJSON buffers the encoded body before touching the wire so an
// encoding failure can still become a clean 500 instead of a truncated
// response.
func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	buf := getResponseBuffer()
	defer putResponseBuffer(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":"error","message":"internal encoding error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	_, _ = w.Write(buf.Bytes())
}
