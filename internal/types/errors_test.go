package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    ErrorKind
	}{
		{"timeout lowercase", "navigation timeout exceeded", KindTimeout},
		{"timeout uppercase", "TIMEOUT after 30s", KindTimeout},
		{"timeout wins over auth", "authentication timeout", KindTimeout},
		{"http 404", "server returned 404", KindNotFound},
		{"not found text", "item Not Found", KindNotFound},
		{"http 429", "status 429 received", KindRateLimited},
		{"rate limit text", "Rate Limit exceeded, slow down", KindRateLimited},
		{"cloudflare block", "blocked by Cloudflare", KindRateLimited},
		{"auth keyword", "AUTH failure on signin", KindAuthRequired},
		{"authentication text", "authentication required", KindAuthRequired},
		{"nsfw sentinel", "item hidden: " + NSFWSentinel, KindAuthRequired},
		{"network keyword", "NETWORK changed", KindNetwork},
		{"chrome error code", "net::ERR_CONNECTION_RESET", KindNetwork},
		{"disconnected browser", "browser disconnected mid flight", KindNetwork},
		{"empty message", "", KindUnknown},
		{"unmatched message", "something odd happened", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.message); got != tt.want {
				t.Errorf("ClassifyError(%q) = %q, want %q", tt.message, got, tt.want)
			}
		})
	}
}

func TestErrorKindRetryable(t *testing.T) {
	retryable := []ErrorKind{KindTimeout, KindRateLimited, KindNetwork, KindUnknown}
	terminal := []ErrorKind{KindNotFound, KindAuthRequired, KindItemNotAccessible, KindCancelled}

	for _, k := range retryable {
		if !k.Retryable() {
			t.Errorf("kind %q should be retryable", k)
		}
	}
	for _, k := range terminal {
		if k.Retryable() {
			t.Errorf("kind %q should not be retryable", k)
		}
	}
}

func TestKindOf(t *testing.T) {
	// Typed errors keep their producer-assigned kind even when the message
	// would classify differently.
	typed := NewScrapeError(KindNetwork, "", "the proxy timed out", nil)
	if got := KindOf(typed); got != KindNetwork {
		t.Errorf("KindOf(typed) = %q, want %q", got, KindNetwork)
	}

	// Wrapped typed errors are still found via errors.As.
	wrapped := fmt.Errorf("scrape failed: %w", NewItemNotAccessibleError("https://example.test/item/9"))
	if got := KindOf(wrapped); got != KindItemNotAccessible {
		t.Errorf("KindOf(wrapped) = %q, want %q", got, KindItemNotAccessible)
	}

	// Plain errors fall back to message classification.
	if got := KindOf(errors.New("rate limit hit")); got != KindRateLimited {
		t.Errorf("KindOf(plain) = %q, want %q", got, KindRateLimited)
	}

	if got := KindOf(nil); got != KindUnknown {
		t.Errorf("KindOf(nil) = %q, want %q", got, KindUnknown)
	}
}

func TestScrapeErrorUnwrap(t *testing.T) {
	err := NewNotFoundError("https://example.test/item/42")
	if !errors.Is(err, ErrItemNotFound) {
		t.Error("NewNotFoundError should unwrap to ErrItemNotFound")
	}

	notAccessible := NewItemNotAccessibleError("https://example.test/item/42")
	if !errors.Is(notAccessible, ErrItemNotAccessible) {
		t.Error("NewItemNotAccessibleError should unwrap to ErrItemNotAccessible")
	}
	// The message carries the NSFW sentinel so string-only consumers still
	// classify it as an auth problem.
	if ClassifyError(notAccessible.Error()) != KindAuthRequired {
		t.Error("item-not-accessible message should classify as auth_required")
	}

	cancelled := NewCancelledError("12345")
	if !errors.Is(cancelled, ErrItemCancelled) {
		t.Error("NewCancelledError should unwrap to ErrItemCancelled")
	}
	if cancelled.Kind != KindCancelled {
		t.Errorf("cancelled kind = %q, want %q", cancelled.Kind, KindCancelled)
	}
}

func TestLaneOrderingAndParse(t *testing.T) {
	if !LaneHot.HigherThan(LaneWarm) || !LaneWarm.HigherThan(LaneCold) {
		t.Error("lane ordering should be HOT > WARM > COLD")
	}
	if LaneCold.HigherThan(LaneHot) {
		t.Error("COLD must not outrank HOT")
	}

	lane, err := ParseLane("HOT")
	if err != nil || lane != LaneHot {
		t.Errorf("ParseLane(HOT) = %v, %v", lane, err)
	}
	if _, err := ParseLane("lukewarm"); err == nil {
		t.Error("ParseLane should reject unknown names")
	}

	// Unset priority normalizes to WARM.
	var opts EnqueueOptions
	opts.Normalize(3)
	if opts.Priority != LaneWarm {
		t.Errorf("default priority = %v, want warm", opts.Priority)
	}
	if opts.Status != StatusWished {
		t.Errorf("default status = %q, want wished", opts.Status)
	}
	if opts.UserID != DefaultUserID {
		t.Errorf("default user = %q, want %q", opts.UserID, DefaultUserID)
	}
	if opts.MaxRetries != 3 {
		t.Errorf("default maxRetries = %d, want 3", opts.MaxRetries)
	}

	capped := EnqueueOptions{MaxRetries: 99}
	capped.Normalize(3)
	if capped.MaxRetries != MaxRetriesCeiling {
		t.Errorf("maxRetries = %d, want ceiling %d", capped.MaxRetries, MaxRetriesCeiling)
	}
}
