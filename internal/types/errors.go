// Package types provides shared types, interfaces, and errors for the application.
package types

import (
	"errors"
	"strings"
)

// Sentinel errors for consistent error handling across the application.
// These errors can be checked with errors.Is() for type-safe error handling.
var (
	// Browser pool errors
	ErrPoolExhausted      = errors.New("browser pool exhausted: no browsers available")
	ErrPoolClosed         = errors.New("browser pool is closed")
	ErrPoolTimeout        = errors.New("timeout waiting for browser from pool")
	ErrPoolNotInitialized = errors.New("browser pool is not initialized")
	ErrBrowserUnhealthy   = errors.New("browser is unhealthy")

	// Queue errors
	ErrQueueClosed        = errors.New("scrape queue is closed")
	ErrItemCancelled      = errors.New("scrape request cancelled")
	ErrInvalidFingerprint = errors.New("invalid item fingerprint")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrMissingCookies  = errors.New("required cookies missing or empty")

	// Extraction errors
	ErrItemNotFound      = errors.New("item not found")
	ErrItemNotAccessible = errors.New("item not accessible with supplied credentials")
	ErrNavigationFailed  = errors.New("page navigation failed")
)

// NSFWSentinel marks errors caused by adult-content gating on the target
// site. The substring classifier maps any message containing it to
// KindAuthRequired.
const NSFWSentinel = "NSFW_RESTRICTED"

// ErrorKind classifies a scrape failure for retry-policy decisions.
type ErrorKind string

const (
	KindTimeout           ErrorKind = "timeout"
	KindNotFound          ErrorKind = "not_found"
	KindRateLimited       ErrorKind = "rate_limited"
	KindAuthRequired      ErrorKind = "auth_required"
	KindNetwork           ErrorKind = "network"
	KindUnknown           ErrorKind = "unknown"
	KindItemNotAccessible ErrorKind = "item_not_accessible"
	KindCancelled         ErrorKind = "cancelled"
)

// Retryable reports whether the queue may re-dispatch an item that failed
// with this kind. Policy failures (auth, not-found, cancelled) surface
// immediately; transient kinds are absorbed up to the item's retry cap.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTimeout, KindRateLimited, KindNetwork, KindUnknown:
		return true
	default:
		return false
	}
}

// classifyPatterns maps lowercase substrings to error kinds. Order matters:
// the first matching row wins, so "authentication timeout" classifies as a
// timeout.
var classifyPatterns = []struct {
	kind     ErrorKind
	patterns []string
}{
	{KindTimeout, []string{"timeout"}},
	{KindNotFound, []string{"404", "not found"}},
	{KindRateLimited, []string{"429", "rate limit", "cloudflare"}},
	{KindAuthRequired, []string{"auth", "nsfw"}},
	{KindNetwork, []string{"network", "err_", "disconnected"}},
}

// ClassifyError maps an error message to an ErrorKind using case-tolerant
// substring matching. Unmatched messages classify as KindUnknown.
func ClassifyError(message string) ErrorKind {
	lower := strings.ToLower(message)
	for _, row := range classifyPatterns {
		for _, p := range row.patterns {
			if strings.Contains(lower, p) {
				return row.kind
			}
		}
	}
	return KindUnknown
}

// ScrapeError carries a classified error kind through the queue so retry
// decisions do not depend on message text when the producer already knows
// the kind. It implements the error interface and supports unwrapping.
type ScrapeError struct {
	Kind    ErrorKind // Classified failure kind
	URL     string    // The URL where the error occurred, if known
	Message string    // Human-readable error message
	Err     error     // Underlying error (for unwrapping)
}

// Error implements the error interface.
func (e *ScrapeError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError creates a classified scrape error.
func NewScrapeError(kind ErrorKind, url, message string, err error) *ScrapeError {
	return &ScrapeError{Kind: kind, URL: url, Message: message, Err: err}
}

// NewNotFoundError creates an error for an item that does not exist (or is
// hidden) when no credentials were supplied.
func NewNotFoundError(url string) *ScrapeError {
	return &ScrapeError{
		Kind:    KindNotFound,
		URL:     url,
		Message: "item page returned a not found / error response",
		Err:     ErrItemNotFound,
	}
}

// NewItemNotAccessibleError creates the credentialed counterpart of
// not-found: the caller was signed in and the item still was not served,
// which usually means adult-content gating the account cannot see.
func NewItemNotAccessibleError(url string) *ScrapeError {
	return &ScrapeError{
		Kind:    KindItemNotAccessible,
		URL:     url,
		Message: "item not accessible with supplied credentials (" + NSFWSentinel + "): check account content settings",
		Err:     ErrItemNotAccessible,
	}
}

// NewCancelledError creates the error delivered to subscribers of a
// cancelled queue item.
func NewCancelledError(fingerprint string) *ScrapeError {
	return &ScrapeError{
		Kind:    KindCancelled,
		Message: "scrape cancelled for item " + fingerprint,
		Err:     ErrItemCancelled,
	}
}

// KindOf extracts the error kind from err. Typed ScrapeErrors keep their
// producer-assigned kind; anything else falls back to message
// classification.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ClassifyError(err.Error())
}
