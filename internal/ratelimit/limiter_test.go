package ratelimit

import (
	"testing"
	"time"
)

func newTestLimiter() *Limiter {
	return NewLimiter(DefaultInitialDelay, DefaultMinDelay, DefaultMaxDelay)
}

func TestNewLimiter_Defaults(t *testing.T) {
	l := NewLimiter(0, 0, 0)

	if l.CurrentDelay() != DefaultInitialDelay {
		t.Errorf("CurrentDelay() = %v, want %v", l.CurrentDelay(), DefaultInitialDelay)
	}
	if l.IsRateLimited() {
		t.Error("New limiter must not start rate limited")
	}
}

func TestNewLimiter_ClampsInitial(t *testing.T) {
	tests := []struct {
		name    string
		initial time.Duration
		want    time.Duration
	}{
		{"below min", 10 * time.Millisecond, DefaultMinDelay},
		{"above max", 10 * time.Minute, DefaultMaxDelay},
		{"in range", 5 * time.Second, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLimiter(tt.initial, DefaultMinDelay, DefaultMaxDelay)
			if l.CurrentDelay() != tt.want {
				t.Errorf("CurrentDelay() = %v, want %v", l.CurrentDelay(), tt.want)
			}
		})
	}
}

func TestLimiter_BackoffMultiplies(t *testing.T) {
	l := newTestLimiter()

	l.ReportRateLimited()

	want := time.Duration(float64(DefaultInitialDelay) * 1.4)
	if l.CurrentDelay() != want {
		t.Errorf("CurrentDelay() after one signal = %v, want %v", l.CurrentDelay(), want)
	}
	if !l.IsRateLimited() {
		t.Error("Expected rate-limited flag after signal")
	}
}

func TestLimiter_BackoffClampsAtMax(t *testing.T) {
	l := newTestLimiter()

	// 2067ms * 1.4^n reaches 180s after ~12 steps; 30 is far past it.
	for i := 0; i < 30; i++ {
		l.ReportRateLimited()
	}

	if l.CurrentDelay() != DefaultMaxDelay {
		t.Errorf("CurrentDelay() = %v, want clamp at %v", l.CurrentDelay(), DefaultMaxDelay)
	}
}

func TestLimiter_RecoveryNeedsThreeSuccesses(t *testing.T) {
	l := newTestLimiter()
	l.ReportRateLimited()
	backedOff := l.CurrentDelay()

	l.ReportSuccess()
	l.ReportSuccess()
	if l.CurrentDelay() != backedOff {
		t.Errorf("Delay narrowed after 2 successes: %v", l.CurrentDelay())
	}
	if !l.IsRateLimited() {
		t.Error("Flag cleared before recovery threshold")
	}

	l.ReportSuccess()
	want := time.Duration(float64(backedOff) / 1.4)
	if l.CurrentDelay() != want {
		t.Errorf("CurrentDelay() after recovery = %v, want %v", l.CurrentDelay(), want)
	}
	if l.IsRateLimited() {
		t.Error("Expected flag cleared after recovery step")
	}
}

func TestLimiter_RecoveryClampsAtMin(t *testing.T) {
	l := newTestLimiter()

	// Drive far below the floor: 2067ms / 1.4^n < 274ms after 6 ticks.
	for i := 0; i < 30; i++ {
		l.ReportSuccess()
	}

	if l.CurrentDelay() != DefaultMinDelay {
		t.Errorf("CurrentDelay() = %v, want clamp at %v", l.CurrentDelay(), DefaultMinDelay)
	}
}

func TestLimiter_RateLimitResetsSuccessStreak(t *testing.T) {
	l := newTestLimiter()

	l.ReportSuccess()
	l.ReportSuccess()
	l.ReportRateLimited()
	afterSignal := l.CurrentDelay()

	// Two more successes must not trigger recovery: the streak restarted.
	l.ReportSuccess()
	l.ReportSuccess()
	if l.CurrentDelay() != afterSignal {
		t.Errorf("Delay changed before a full new streak: %v", l.CurrentDelay())
	}

	l.ReportSuccess()
	if l.CurrentDelay() >= afterSignal {
		t.Errorf("Expected recovery after full streak, still %v", l.CurrentDelay())
	}
}

func TestLimiter_Tune(t *testing.T) {
	l := NewLimiter(time.Second, DefaultMinDelay, DefaultMaxDelay)
	l.Tune(2.0, 1)

	l.ReportRateLimited()
	if l.CurrentDelay() != 2*time.Second {
		t.Errorf("CurrentDelay() = %v, want 2s with factor 2.0", l.CurrentDelay())
	}

	// Recovery threshold of 1: a single success narrows the delay.
	l.ReportSuccess()
	if l.CurrentDelay() != time.Second {
		t.Errorf("CurrentDelay() = %v, want 1s after one success", l.CurrentDelay())
	}

	// Invalid tuning values keep the current settings.
	l.Tune(0.5, 0)
	l.ReportRateLimited()
	if l.CurrentDelay() != 2*time.Second {
		t.Errorf("CurrentDelay() = %v, invalid Tune must keep factor 2.0", l.CurrentDelay())
	}
}

func TestLimiter_FailureResetsStreakWithoutBackoff(t *testing.T) {
	l := newTestLimiter()
	before := l.CurrentDelay()

	l.ReportSuccess()
	l.ReportSuccess()
	l.ReportFailure()

	if l.CurrentDelay() != before {
		t.Errorf("ReportFailure changed the delay: %v", l.CurrentDelay())
	}
	if l.IsRateLimited() {
		t.Error("ReportFailure must not set the rate-limited flag")
	}

	// The streak restarted: two successes do nothing, the third recovers.
	l.ReportSuccess()
	l.ReportSuccess()
	if l.CurrentDelay() != before {
		t.Errorf("Delay narrowed before a full new streak: %v", l.CurrentDelay())
	}
	l.ReportSuccess()
	if l.CurrentDelay() >= before {
		t.Errorf("Expected recovery after a full streak, still %v", l.CurrentDelay())
	}
}

func TestLimiter_WaitDuration(t *testing.T) {
	l := NewLimiter(2*time.Second, DefaultMinDelay, DefaultMaxDelay)
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	// No dispatch yet: no wait.
	if got := l.WaitDuration(now); got != 0 {
		t.Errorf("WaitDuration() before any dispatch = %v, want 0", got)
	}

	l.MarkDispatch(now)

	if got := l.WaitDuration(now); got != 2*time.Second {
		t.Errorf("WaitDuration() immediately after dispatch = %v, want 2s", got)
	}
	if got := l.WaitDuration(now.Add(500 * time.Millisecond)); got != 1500*time.Millisecond {
		t.Errorf("WaitDuration() at +500ms = %v, want 1.5s", got)
	}
	if got := l.WaitDuration(now.Add(2 * time.Second)); got != 0 {
		t.Errorf("WaitDuration() at +2s = %v, want 0", got)
	}
	if got := l.WaitDuration(now.Add(time.Minute)); got != 0 {
		t.Errorf("WaitDuration() long after = %v, want 0", got)
	}
}

func TestLimiter_WaitDurationTracksBackoff(t *testing.T) {
	l := NewLimiter(time.Second, DefaultMinDelay, DefaultMaxDelay)
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	l.MarkDispatch(now)
	l.ReportRateLimited()

	// The widened delay applies to the wait measured from the old stamp.
	want := time.Duration(float64(time.Second)*1.4) - 200*time.Millisecond
	if got := l.WaitDuration(now.Add(200 * time.Millisecond)); got != want {
		t.Errorf("WaitDuration() = %v, want %v", got, want)
	}
}
