// Package ratelimit paces outbound scrapes and detects rate-limit
// responses from the target site.
package ratelimit

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Pacing defaults. The initial delay is deliberately off-round so the
// request cadence does not look machine-generated.
const (
	DefaultInitialDelay = 2067 * time.Millisecond
	DefaultMinDelay     = 274 * time.Millisecond
	DefaultMaxDelay     = 180 * time.Second

	// backoffFactor multiplies the delay on a rate-limit signal and
	// divides it on recovery.
	backoffFactor = 1.4

	// recoveryThreshold is how many consecutive successes earn one
	// recovery step.
	recoveryThreshold = 3
)

// Limiter adapts the gap between outbound requests to how the target site
// is responding: every rate-limit signal widens the gap, sustained success
// narrows it.
//
// Limiter is NOT goroutine-safe. It is owned by the queue's processing
// loop and every method is called under the queue's mutex.
type Limiter struct {
	currentDelay         time.Duration
	minDelay             time.Duration
	maxDelay             time.Duration
	factor               float64
	recoverySuccesses    int
	consecutiveSuccesses int
	rateLimited          bool
	lastRequestTime      time.Time
}

// NewLimiter creates a Limiter with the given pacing bounds. Non-positive
// arguments fall back to the defaults; the initial delay is clamped into
// [min, max].
func NewLimiter(initial, min, max time.Duration) *Limiter {
	if min <= 0 {
		min = DefaultMinDelay
	}
	if max <= 0 || max < min {
		max = DefaultMaxDelay
	}
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	if initial < min {
		initial = min
	}
	if initial > max {
		initial = max
	}
	return &Limiter{
		currentDelay:      initial,
		minDelay:          min,
		maxDelay:          max,
		factor:            backoffFactor,
		recoverySuccesses: recoveryThreshold,
	}
}

// Tune overrides the backoff factor and the recovery success threshold.
// Out-of-range values keep the defaults. Call before the limiter is in use;
// it is not synchronized.
func (l *Limiter) Tune(factor float64, successes int) {
	if factor > 1 {
		l.factor = factor
	}
	if successes > 0 {
		l.recoverySuccesses = successes
	}
}

// WaitDuration returns how much longer the caller must wait before
// dispatching the next request, measured from the last dispatch stamp.
// Zero means dispatch immediately.
func (l *Limiter) WaitDuration(now time.Time) time.Duration {
	if l.lastRequestTime.IsZero() {
		return 0
	}
	elapsed := now.Sub(l.lastRequestTime)
	if elapsed >= l.currentDelay {
		return 0
	}
	return l.currentDelay - elapsed
}

// MarkDispatch stamps the moment a request was handed to the browser.
// Pacing for the next request is measured from this stamp, not from
// completion, so slow scrapes do not stack extra delay.
func (l *Limiter) MarkDispatch(now time.Time) {
	l.lastRequestTime = now
}

// ReportSuccess records one successful scrape. Every third consecutive
// success narrows the delay one recovery step and clears the rate-limited
// flag.
func (l *Limiter) ReportSuccess() {
	l.consecutiveSuccesses++
	if l.consecutiveSuccesses < l.recoverySuccesses {
		return
	}

	previous := l.currentDelay
	l.currentDelay = time.Duration(float64(l.currentDelay) / l.factor)
	if l.currentDelay < l.minDelay {
		l.currentDelay = l.minDelay
	}
	l.consecutiveSuccesses = 0
	l.rateLimited = false

	if l.currentDelay != previous {
		log.Debug().
			Dur("previous_delay", previous).
			Dur("current_delay", l.currentDelay).
			Msg("Pacing recovered")
	}
}

// ReportFailure records a scrape failure that was not a rate-limit signal.
// The recovery streak resets but the delay stays put: an unrelated timeout
// must not cost us a backoff step.
func (l *Limiter) ReportFailure() {
	l.consecutiveSuccesses = 0
}

// ReportRateLimited records a rate-limit signal from the target site:
// the delay widens one backoff step, the success streak resets, and the
// limiter stays flagged until a full recovery cycle completes.
func (l *Limiter) ReportRateLimited() {
	previous := l.currentDelay
	l.currentDelay = time.Duration(float64(l.currentDelay) * l.factor)
	if l.currentDelay > l.maxDelay {
		l.currentDelay = l.maxDelay
	}
	l.consecutiveSuccesses = 0
	l.rateLimited = true

	log.Warn().
		Dur("previous_delay", previous).
		Dur("current_delay", l.currentDelay).
		Msg("Rate limit signal, widening pacing")
}

// CurrentDelay returns the active gap between requests.
func (l *Limiter) CurrentDelay() time.Duration {
	return l.currentDelay
}

// IsRateLimited reports whether the limiter is in the backed-off state.
func (l *Limiter) IsRateLimited() bool {
	return l.rateLimited
}
