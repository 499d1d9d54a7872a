// Package session caches credential-validation results, classifies
// repeated failures, and coordinates the pause/resume protocol that lets
// an operator intervene when a session's cookies stop working.
package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/mokutsu/mfcscraper-go/internal/config"
	"github.com/mokutsu/mfcscraper-go/internal/security"
	"github.com/mokutsu/mfcscraper-go/internal/types"
)

// Validator performs the expensive network check of a credential bag,
// typically by navigating to the site and looking for the signed-in
// marker. The extractor provides the production implementation.
type Validator interface {
	ValidateLogin(ctx context.Context, cookies map[string]string) (ok bool, reason string, err error)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, cookies map[string]string) (bool, string, error)

// ValidateLogin calls the wrapped function.
func (f ValidatorFunc) ValidateLogin(ctx context.Context, cookies map[string]string) (bool, string, error) {
	return f(ctx, cookies)
}

// ValidateOptions tunes a single IsValid call.
type ValidateOptions struct {
	// ForceRevalidate skips the cache and always runs the network check.
	ForceRevalidate bool
	// StructureOnly stops after the required-cookie shape check.
	StructureOnly bool
	// UserID is recorded on the session for pause events.
	UserID string
}

// ValidationResult is the outcome of an IsValid call.
type ValidationResult struct {
	Valid  bool
	Reason string
	// ShouldNotify is set when a fresh network validation came back
	// definitively invalid; the caller should surface that to the user
	// exactly once instead of on every cache hit.
	ShouldNotify bool
}

// CookieFailureResult tells the queue what to do with an item after a
// credentialed scrape failed.
type CookieFailureResult struct {
	ShouldRetry  bool
	IsPaused     bool
	Cooldown     time.Duration
	FailureCount int
}

// Snapshot is the HTTP projection of one tracked session.
type Snapshot struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"userId,omitempty"`
	Valid               bool      `json:"valid"`
	ValidatedAt         time.Time `json:"validatedAt,omitempty"`
	Paused              bool      `json:"paused"`
	InCooldown          bool      `json:"inCooldown"`
	CooldownRemainingMs int64     `json:"cooldownRemainingMs"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	FailedItemCount     int       `json:"failedItemCount"`
	AuthErrors          int       `json:"authErrors"`
}

// entry is the tracked state for one session id.
type entry struct {
	sessionID string
	userID    string

	// Validation cache
	valid       bool
	reason      string
	validatedAt time.Time
	cookieKey   string // sorted cookie names; detects swapped credential bags

	authErrorCount int

	// Failure tracking for the pause protocol
	consecutiveFailures int
	failedFingerprints  []string
	lastFailureTime     time.Time
	paused              bool
}

func (e *entry) hasRecentFailures() bool {
	return e.consecutiveFailures > 0 || e.authErrorCount > 0 || e.paused
}

func (e *entry) recordFailedFingerprint(fp string) {
	for _, existing := range e.failedFingerprints {
		if existing == fp {
			return
		}
	}
	e.failedFingerprints = append(e.failedFingerprints, fp)
}

// Manager tracks sessions by id. One mutex covers the session map, the
// event registries, and the probe cache; the network validation and the
// connectivity probe run outside it, de-duplicated by singleflight.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry
	cfg      *config.Config

	validator     Validator
	validateGroup singleflight.Group

	// Diagnose probe
	probeGroup       singleflight.Group
	httpClient       *http.Client
	lastProbeTime    time.Time
	lastProbeSuccess bool
	lastProbeErr     error

	// Event registries; int handles make unsubscribe closures trivial.
	invalidationSubs map[int]func(types.SessionInvalidatedEvent)
	pausedSubs       map[int]func(types.SessionPausedEvent)
	nextSubID        int

	stopCh chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewManager creates a session manager backed by the given validator.
// It starts a background goroutine that prunes long-stale entries.
func NewManager(cfg *config.Config, validator Validator) *Manager {
	m := &Manager{
		sessions:         make(map[string]*entry),
		cfg:              cfg,
		validator:        validator,
		httpClient:       &http.Client{Timeout: cfg.ProbeTimeout},
		invalidationSubs: make(map[int]func(types.SessionInvalidatedEvent)),
		pausedSubs:       make(map[int]func(types.SessionPausedEvent)),
		stopCh:           make(chan struct{}),
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.cleanupRoutine()
	}()

	log.Info().
		Dur("cache_ttl", cfg.SessionCacheTTL).
		Int("cache_max", cfg.SessionCacheMax).
		Int("auth_error_threshold", cfg.AuthErrorThreshold).
		Int("pause_threshold", cfg.PauseThreshold).
		Msg("Session manager initialized")

	return m
}

// IsValid reports whether a session's credentials are usable.
// The check runs in three stages: structure (required cookie names present
// and non-empty), cache (age under TTL and auth errors under threshold),
// then a network validation de-duplicated per session id.
func (m *Manager) IsValid(ctx context.Context, sessionID string, cookies map[string]string, opts ValidateOptions) (ValidationResult, error) {
	for _, name := range m.cfg.RequiredCookies {
		if cookies[name] == "" {
			return ValidationResult{
				Valid:  false,
				Reason: fmt.Sprintf("required cookie %s missing or empty", security.SanitizeForLog(name)),
			}, nil
		}
	}

	if opts.StructureOnly {
		return ValidationResult{Valid: true, Reason: "structure ok"}, nil
	}

	cookieKey := fmt.Sprintf("%v", security.CookieNamesForLog(cookies))

	if !opts.ForceRevalidate {
		m.mu.Lock()
		if e, ok := m.sessions[sessionID]; ok {
			fresh := time.Since(e.validatedAt) < m.cfg.SessionCacheTTL
			trusted := e.authErrorCount < m.cfg.AuthErrorThreshold
			if fresh && trusted && e.cookieKey == cookieKey {
				result := ValidationResult{Valid: e.valid, Reason: e.reason}
				m.mu.Unlock()
				return result, nil
			}
		}
		m.mu.Unlock()
	}

	// Concurrent callers for the same session share one validation.
	type outcome struct {
		ok     bool
		reason string
	}
	v, err, shared := m.validateGroup.Do(sessionID, func() (interface{}, error) {
		ok, reason, err := m.validator.ValidateLogin(ctx, cookies)
		if err != nil {
			return nil, err
		}
		return outcome{ok: ok, reason: reason}, nil
	})
	if err != nil {
		// Transport failures are not cached; the next call retries.
		return ValidationResult{Valid: false, Reason: "validation failed"}, err
	}
	res := v.(outcome)

	m.mu.Lock()
	e := m.getOrCreateLocked(sessionID)
	if opts.UserID != "" {
		e.userID = opts.UserID
	}
	e.valid = res.ok
	e.reason = res.reason
	e.validatedAt = time.Now()
	e.cookieKey = cookieKey
	if res.ok {
		e.authErrorCount = 0
	}
	m.evictIfNeededLocked()
	m.mu.Unlock()

	log.Debug().
		Str("session_id", security.SanitizeForLog(sessionID)).
		Bool("valid", res.ok).
		Bool("shared", shared).
		Strs("cookie_names", security.CookieNamesForLog(cookies)).
		Msg("Session validated")

	return ValidationResult{
		Valid:        res.ok,
		Reason:       res.reason,
		ShouldNotify: !res.ok,
	}, nil
}

// ReportAuthError records an authentication failure observed during a
// scrape. At the threshold the cached validation is discarded and an
// invalidation event fires. Returns whether the session should now be
// treated as invalid.
func (m *Manager) ReportAuthError(sessionID, errorMessage string) bool {
	m.mu.Lock()
	e := m.getOrCreateLocked(sessionID)
	e.authErrorCount++
	count := e.authErrorCount
	crossed := count >= m.cfg.AuthErrorThreshold
	if crossed {
		// Invalidate the cache entry; the next IsValid revalidates.
		e.valid = false
		e.validatedAt = time.Time{}
	}
	m.mu.Unlock()

	log.Warn().
		Str("session_id", security.SanitizeForLog(sessionID)).
		Int("auth_errors", count).
		Str("error", security.SanitizeForLog(errorMessage)).
		Msg("Auth error reported")

	if crossed {
		m.emitInvalidation(types.SessionInvalidatedEvent{
			SessionID: sessionID,
			Reason:    "auth error threshold reached",
		})
	}
	return crossed
}

// ReportCookieFailure records a credentialed scrape failure and decides
// between an automatic cooldown retry and pausing the session for
// operator action.
func (m *Manager) ReportCookieFailure(sessionID, fingerprint, userID string, pendingCount int) CookieFailureResult {
	m.mu.Lock()
	e := m.getOrCreateLocked(sessionID)
	if userID != "" {
		e.userID = userID
	}
	e.consecutiveFailures++
	e.recordFailedFingerprint(fingerprint)
	e.lastFailureTime = time.Now()
	count := e.consecutiveFailures

	var ev *types.SessionPausedEvent
	if count >= m.cfg.PauseThreshold && !e.paused {
		e.paused = true
		failed := make([]string, len(e.failedFingerprints))
		copy(failed, e.failedFingerprints)
		ev = &types.SessionPausedEvent{
			SessionID:          sessionID,
			UserID:             e.userID,
			FailureCount:       count,
			FailedFingerprints: failed,
			PendingCount:       pendingCount,
			Actions:            []string{types.ActionResume, types.ActionCancelItem, types.ActionCancelAll},
		}
	}
	paused := e.paused
	m.mu.Unlock()

	if ev != nil {
		log.Warn().
			Str("session_id", security.SanitizeForLog(sessionID)).
			Int("failures", count).
			Int("pending", pendingCount).
			Msg("Session paused, operator action required")
		m.emitPaused(*ev)
	}

	if paused {
		return CookieFailureResult{IsPaused: true, FailureCount: count}
	}
	return CookieFailureResult{
		ShouldRetry:  true,
		Cooldown:     m.cfg.FailureCooldown,
		FailureCount: count,
	}
}

// ReportSuccess resets the failure streak after a credentialed scrape
// succeeds. It never clears the paused flag; only Resume does that.
func (m *Manager) ReportSuccess(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	e.consecutiveFailures = 0
	e.failedFingerprints = nil
	e.lastFailureTime = time.Time{}
}

// IsPaused reports whether a session is paused.
func (m *Manager) IsPaused(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	return ok && e.paused
}

// InCooldown reports whether a session is inside the automatic cooldown
// window following a recent failure, and how long remains. A paused
// session is never simultaneously in cooldown.
func (m *Manager) InCooldown(sessionID string) (bool, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok || e.paused || e.consecutiveFailures == 0 || e.lastFailureTime.IsZero() {
		return false, 0
	}
	elapsed := time.Since(e.lastFailureTime)
	if elapsed >= m.cfg.FailureCooldown {
		return false, 0
	}
	return true, m.cfg.FailureCooldown - elapsed
}

// Resume clears the paused flag and all failure state. Idempotent on
// unknown and already-running sessions.
func (m *Manager) Resume(sessionID string) {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	wasPaused := e.paused
	e.paused = false
	e.consecutiveFailures = 0
	e.failedFingerprints = nil
	e.lastFailureTime = time.Time{}
	m.mu.Unlock()

	if wasPaused {
		log.Info().
			Str("session_id", security.SanitizeForLog(sessionID)).
			Msg("Session resumed")
	}
}

// ReportRateLimitBlock records that a credentialed scrape hit a rate
// limit. Informational only: pacing is the rate limiter's job and the
// paused flag is untouched.
func (m *Manager) ReportRateLimitBlock(sessionID string, isCloudflare bool) {
	log.Warn().
		Str("session_id", security.SanitizeForLog(sessionID)).
		Bool("cloudflare", isCloudflare).
		Msg("Session hit rate limit")
}

// FailedItems returns the fingerprints that failed for a session since
// its last success or resume.
func (m *Manager) FailedItems(sessionID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok || len(e.failedFingerprints) == 0 {
		return nil
	}
	failed := make([]string, len(e.failedFingerprints))
	copy(failed, e.failedFingerprints)
	return failed
}

// Remove drops all tracked state for a session.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	_, existed := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if existed {
		m.emitInvalidation(types.SessionInvalidatedEvent{
			SessionID: sessionID,
			Reason:    "removed",
		})
	}
}

// Sessions returns projections of every tracked session.
func (m *Manager) Sessions() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snaps := make([]Snapshot, 0, len(m.sessions))
	for id, e := range m.sessions {
		snap := Snapshot{
			ID:                  id,
			UserID:              e.userID,
			Valid:               e.valid,
			ValidatedAt:         e.validatedAt,
			Paused:              e.paused,
			ConsecutiveFailures: e.consecutiveFailures,
			FailedItemCount:     len(e.failedFingerprints),
			AuthErrors:          e.authErrorCount,
		}
		if !e.paused && e.consecutiveFailures > 0 && !e.lastFailureTime.IsZero() {
			if elapsed := time.Since(e.lastFailureTime); elapsed < m.cfg.FailureCooldown {
				snap.InCooldown = true
				snap.CooldownRemainingMs = (m.cfg.FailureCooldown - elapsed).Milliseconds()
			}
		}
		snaps = append(snaps, snap)
	}
	return snaps
}

// Count returns the number of tracked sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// OnInvalidation registers a callback for invalidation events and returns
// an unsubscribe closure.
func (m *Manager) OnInvalidation(fn func(types.SessionInvalidatedEvent)) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.invalidationSubs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.invalidationSubs, id)
		m.mu.Unlock()
	}
}

// OnPaused registers a callback for pause events and returns an
// unsubscribe closure.
func (m *Manager) OnPaused(fn func(types.SessionPausedEvent)) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.pausedSubs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.pausedSubs, id)
		m.mu.Unlock()
	}
}

// emitInvalidation fans an event out to subscribers outside the lock.
// A panicking callback is logged and never propagates.
func (m *Manager) emitInvalidation(ev types.SessionInvalidatedEvent) {
	m.mu.Lock()
	subs := make([]func(types.SessionInvalidatedEvent), 0, len(m.invalidationSubs))
	for _, fn := range m.invalidationSubs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		m.safeCall(func() { fn(ev) }, "invalidation")
	}
}

func (m *Manager) emitPaused(ev types.SessionPausedEvent) {
	m.mu.Lock()
	subs := make([]func(types.SessionPausedEvent), 0, len(m.pausedSubs))
	for _, fn := range m.pausedSubs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		m.safeCall(func() { fn(ev) }, "paused")
	}
}

func (m *Manager) safeCall(fn func(), kind string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("event", kind).
				Msg("Session event subscriber panicked")
		}
	}()
	fn()
}

// getOrCreateLocked returns the entry for a session id, creating it if
// needed. Must be called with m.mu held.
func (m *Manager) getOrCreateLocked(sessionID string) *entry {
	if e, ok := m.sessions[sessionID]; ok {
		return e
	}
	e := &entry{sessionID: sessionID}
	m.sessions[sessionID] = e
	return e
}

// evictIfNeededLocked enforces the cache cap with LRU-by-validatedAt.
// Paused sessions are passed over so an eviction cannot silently undo a
// pause the operator has not acted on; they are reclaimed only when every
// tracked session is paused. Must be called with m.mu held.
func (m *Manager) evictIfNeededLocked() {
	for len(m.sessions) > m.cfg.SessionCacheMax {
		victim := m.oldestLocked(false)
		if victim == "" {
			victim = m.oldestLocked(true)
			if victim == "" {
				return
			}
			log.Warn().
				Str("session_id", security.SanitizeForLog(victim)).
				Msg("Evicting paused session, cache full of paused sessions")
		}
		delete(m.sessions, victim)
		log.Debug().
			Str("session_id", security.SanitizeForLog(victim)).
			Int("cached", len(m.sessions)).
			Msg("Session evicted")
	}
}

func (m *Manager) oldestLocked(includePaused bool) string {
	var victim string
	var oldest time.Time
	first := true
	for id, e := range m.sessions {
		if e.paused && !includePaused {
			continue
		}
		if first || e.validatedAt.Before(oldest) {
			victim = id
			oldest = e.validatedAt
			first = false
		}
	}
	return victim
}

// cleanupRoutine prunes entries whose validation has long expired and
// that carry no failure state worth keeping.
func (m *Manager) cleanupRoutine() {
	interval := m.cfg.SessionCacheTTL / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.cleanupStale()
		}
	}
}

func (m *Manager) cleanupStale() {
	staleAfter := 2 * m.cfg.SessionCacheTTL

	m.mu.Lock()
	var stale []string
	for id, e := range m.sessions {
		if e.paused || e.hasRecentFailures() {
			continue
		}
		if time.Since(e.validatedAt) > staleAfter {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(m.sessions, id)
	}
	remaining := len(m.sessions)
	m.mu.Unlock()

	if len(stale) > 0 {
		log.Debug().
			Int("removed", len(stale)).
			Int("remaining", remaining).
			Msg("Stale sessions pruned")
	}
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	log.Debug().Msg("Session manager closed")
}
