// Package humanize paces browser interactions so a page visit reads like a
// collector skimming an item entry rather than a machine firing requests.
package humanize

import (
	"context"
	"math/rand"
	"time"
)

// Poll interval bounds for readiness loops. A fixed 1s poll is a fingerprint;
// drawing from a range is not.
const (
	pollIntervalMinMs = 800
	pollIntervalMaxMs = 1500
)

// RandomDuration returns a random duration between min and max milliseconds.
// An inverted or degenerate range collapses to min.
func RandomDuration(minMs, maxMs int) time.Duration {
	if maxMs <= minMs {
		return time.Duration(minMs) * time.Millisecond
	}
	ms := minMs + rand.Intn(maxMs-minMs+1)
	return time.Duration(ms) * time.Millisecond
}

// RandomPollInterval returns the delay to use between readiness checks while
// waiting for a page to finish rendering.
func RandomPollInterval() time.Duration {
	return RandomDuration(pollIntervalMinMs, pollIntervalMaxMs)
}

// SleepWithContext sleeps for d or until the context is cancelled. Returns
// true if the full duration elapsed. Uses time.NewTimer rather than
// time.After so an early cancel does not leak the timer.
func SleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// SleepWithJitter sleeps for base plus or minus a random fraction of it.
// jitterPercent is clamped to [0, 1]; SleepWithJitter(ctx, time.Second, 0.2)
// sleeps somewhere in 0.8s-1.2s. Returns true if the sleep ran to completion.
func SleepWithJitter(ctx context.Context, base time.Duration, jitterPercent float64) bool {
	if jitterPercent < 0 {
		jitterPercent = 0
	}
	if jitterPercent > 1 {
		jitterPercent = 1
	}

	jitterRange := float64(base) * jitterPercent
	jitter := (rand.Float64()*2 - 1) * jitterRange

	d := time.Duration(float64(base) + jitter)
	if d < 0 {
		d = 0
	}
	return SleepWithContext(ctx, d)
}
