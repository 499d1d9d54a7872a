package queue

import (
	"github.com/rs/zerolog/log"

	"github.com/mokutsu/mfcscraper-go/internal/security"
	"github.com/mokutsu/mfcscraper-go/internal/types"
)

// Cancel removes a queued item and rejects its subscribers. In-flight items
// are untouched: a true return means the item will never be scraped, but a
// false alongside an in-flight scrape means waiters still get that outcome.
func (q *Queue) Cancel(fingerprint string) bool {
	q.mu.Lock()
	it, ok := q.pending[fingerprint]
	if !ok || q.inFlight == it {
		q.mu.Unlock()
		return false
	}
	q.removeFromLaneLocked(it)
	delete(q.pending, fingerprint)
	q.mu.Unlock()

	q.notifier.NotifySkipped(fingerprint, "cancelled")
	resolve(it.subscribers, types.Outcome{Err: types.NewCancelledError(q.cfg.ItemURL(fingerprint))})

	log.Info().
		Str("fingerprint", fingerprint).
		Int("waiters", len(it.waiters)).
		Msg("Item cancelled")
	return true
}

// CancelAllForSession cancels every queued item bound to the session, then
// removes the session from the manager. Returns how many items were
// cancelled.
func (q *Queue) CancelAllForSession(sessionID string) int {
	q.mu.Lock()
	var victims []*item
	for fp, it := range q.pending {
		if it.sessionID != sessionID || it == q.inFlight {
			continue
		}
		q.removeFromLaneLocked(it)
		delete(q.pending, fp)
		victims = append(victims, it)
	}
	q.mu.Unlock()

	for _, it := range victims {
		q.notifier.NotifySkipped(it.fingerprint, "session cancelled")
		resolve(it.subscribers, types.Outcome{Err: types.NewCancelledError(q.cfg.ItemURL(it.fingerprint))})
	}
	q.sessions.Remove(sessionID)

	log.Info().
		Str("session_id", security.SanitizeForLog(sessionID)).
		Int("cancelled", len(victims)).
		Msg("Session items cancelled, session removed")
	return len(victims)
}

// CancelFailedItems cancels every fingerprint the session manager recorded
// as failed for the session, then resumes the session so its remaining
// items dispatch again.
func (q *Queue) CancelFailedItems(sessionID string) int {
	cancelled := 0
	for _, fp := range q.sessions.FailedItems(sessionID) {
		if q.Cancel(fp) {
			cancelled++
		}
	}
	q.sessions.Resume(sessionID)
	q.kick()

	log.Info().
		Str("session_id", security.SanitizeForLog(sessionID)).
		Int("cancelled", cancelled).
		Msg("Failed items cancelled, session resumed")
	return cancelled
}

// Clear empties all lanes and rejects every pending subscriber. In test
// mode the subscriber channels are closed without an outcome so bulk
// resets do not drown tests in cancellation errors.
func (q *Queue) Clear() int {
	q.mu.Lock()
	var victims []*item
	for fp, it := range q.pending {
		if it == q.inFlight {
			continue
		}
		delete(q.pending, fp)
		victims = append(victims, it)
	}
	for _, lane := range types.Lanes {
		q.lanes[lane] = nil
	}
	q.mu.Unlock()

	for _, it := range victims {
		if q.cfg.TestMode {
			for _, ch := range it.subscribers {
				close(ch)
			}
			continue
		}
		resolve(it.subscribers, types.Outcome{Err: types.NewCancelledError(q.cfg.ItemURL(it.fingerprint))})
	}

	log.Warn().Int("cleared", len(victims)).Msg("Queue cleared")
	return len(victims)
}
