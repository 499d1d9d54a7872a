package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mokutsu/mfcscraper-go/internal/extractor"
	"github.com/mokutsu/mfcscraper-go/internal/metrics"
	"github.com/mokutsu/mfcscraper-go/internal/security"
	"github.com/mokutsu/mfcscraper-go/internal/types"
)

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopCh:
			return
		case <-q.wake:
			q.process()
		}
	}
}

// process drains the queue one item at a time: pacing wait, selection,
// scrape outside the lock, then outcome handling. Returns when the queue is
// empty, fully blocked, or stopping; the next kick resumes it.
func (q *Queue) process() {
	for {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return
		}

		if wait := q.limiter.WaitDuration(time.Now()); wait > 0 {
			q.mu.Unlock()
			if !q.pause(wait) {
				return
			}
			continue
		}

		it, skipped := q.nextLocked()
		if it == nil {
			q.mu.Unlock()
			if skipped {
				// Everything queued is session-blocked. One bounded nap,
				// then rescan; a resume kick cuts the nap short.
				if !q.pause(q.cfg.QueueRetryInterval) {
					return
				}
				continue
			}
			return
		}

		q.inFlight = it
		q.limiter.MarkDispatch(time.Now())
		q.mu.Unlock()

		rec, err := q.scrapeItem(it)

		q.mu.Lock()
		q.inFlight = nil
		if err != nil {
			q.failLocked(it, err)
		} else {
			q.completeLocked(it, rec)
		}
		q.mu.Unlock()
	}
}

// pause sleeps cooperatively. False means the queue is stopping. A wake
// kick ends the nap early; the caller re-derives whatever wait still
// applies, so waking early never violates pacing.
func (q *Queue) pause(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-q.stopCh:
		return false
	case <-q.wake:
		return true
	case <-t.C:
		return true
	}
}

// nextLocked pops the first processable item scanning HOT, WARM then COLD.
// Items whose session is paused or cooling down are skipped in place; the
// second return tells the caller whether anything was skipped.
func (q *Queue) nextLocked() (*item, bool) {
	skipped := false
	for _, laneID := range types.Lanes {
		lane := q.lanes[laneID]
		for i, it := range lane {
			if it.credentialed() {
				if q.sessions.IsPaused(it.sessionID) {
					skipped = true
					continue
				}
				if cooling, _ := q.sessions.InCooldown(it.sessionID); cooling {
					skipped = true
					continue
				}
			}
			q.lanes[laneID] = append(lane[:i], lane[i+1:]...)
			return it, skipped
		}
	}
	return nil, skipped
}

func (q *Queue) scrapeItem(it *item) (*types.Record, error) {
	req := extractor.Request{
		URL:         q.cfg.ItemURL(it.fingerprint),
		Fingerprint: it.fingerprint,
		Cookies:     it.cookies,
	}

	start := time.Now()
	rec, err := q.scraper.Extract(q.scrapeCtx, req)
	latency := time.Since(start)

	if err != nil {
		kind := types.KindOf(err)
		q.tracker.RecordFailure(latency, kind)
		metrics.RecordScrape(string(kind), latency)
	} else {
		q.tracker.RecordSuccess(latency)
		metrics.RecordScrape("success", latency)
	}
	return rec, err
}

func (q *Queue) completeLocked(it *item, rec *types.Record) {
	q.counters.completed++
	q.counters.statusRow(it.status).Completed++
	q.limiter.ReportSuccess()
	if it.credentialed() {
		q.sessions.ReportSuccess(it.sessionID)
	}
	delete(q.pending, it.fingerprint)

	q.notifier.NotifyCompleted(rec)
	resolve(it.subscribers, types.Outcome{Record: rec})

	log.Info().
		Str("fingerprint", it.fingerprint).
		Int("waiters", len(it.waiters)).
		Int("attempts", it.retryCount+1).
		Msg("Item completed")
}

// failLocked applies the retry policy. Permanent kinds surface immediately;
// a credentialed item with an audience follows the session protocol rather
// than burning its own retry budget; everything else uses the generic
// retry-up-to-cap predicate.
func (q *Queue) failLocked(it *item, err error) {
	kind := types.KindOf(err)
	it.retryCount++
	it.lastError = err.Error()
	it.errorKind = kind

	if kind == types.KindRateLimited {
		q.limiter.ReportRateLimited()
		if it.credentialed() {
			q.sessions.ReportRateLimitBlock(it.sessionID, isCloudflareError(err))
		}
	} else {
		q.limiter.ReportFailure()
	}

	switch kind {
	case types.KindAuthRequired:
		if it.credentialed() {
			q.sessions.ReportAuthError(it.sessionID, it.lastError)
		}
		q.giveUpLocked(it, err)
		return
	case types.KindNotFound, types.KindItemNotAccessible, types.KindCancelled:
		q.giveUpLocked(it, err)
		return
	}

	if it.credentialed() && len(it.waiters) > 0 {
		res := q.sessions.ReportCookieFailure(it.sessionID, it.fingerprint, it.userID, q.pendingForSessionLocked(it.sessionID))
		if res.IsPaused || res.ShouldRetry {
			q.insertLocked(it)
			log.Warn().
				Str("fingerprint", it.fingerprint).
				Str("kind", string(kind)).
				Bool("session_paused", res.IsPaused).
				Dur("cooldown", res.Cooldown).
				Int("session_failures", res.FailureCount).
				Msg("Item re-queued under session policy")
			return
		}
	}

	if kind.Retryable() && it.retryCount <= it.maxRetries {
		q.insertLocked(it)
		log.Warn().
			Str("fingerprint", it.fingerprint).
			Str("kind", string(kind)).
			Int("retry", it.retryCount).
			Int("max_retries", it.maxRetries).
			Str("error", security.SanitizeForLog(it.lastError)).
			Msg("Item re-queued for retry")
		return
	}

	q.giveUpLocked(it, err)
}

func (q *Queue) giveUpLocked(it *item, cause error) {
	q.counters.failed++
	q.counters.statusRow(it.status).Failed++
	delete(q.pending, it.fingerprint)

	composed := fmt.Errorf("scrape of item %s gave up after %d attempts: %w", it.fingerprint, it.retryCount, cause)
	q.notifier.NotifyFailed(it.fingerprint, it.errorKind, cause.Error())
	resolve(it.subscribers, types.Outcome{Err: composed})

	log.Error().
		Str("fingerprint", it.fingerprint).
		Str("kind", string(it.errorKind)).
		Int("attempts", it.retryCount).
		Int("waiters", len(it.waiters)).
		Str("error", security.SanitizeForLog(it.lastError)).
		Msg("Item failed permanently")
}

func isCloudflareError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "cloudflare")
}
