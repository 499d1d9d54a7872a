// Package security provides input validation and log sanitization.
package security

import (
	"errors"
	"net/url"
	"strings"
)

// MaxTargetLength caps the raw target string accepted by ExtractFingerprint.
const MaxTargetLength = 2048

// MaxFingerprintLength caps the item identifier length.
const MaxFingerprintLength = 32

// Target parsing errors.
var (
	ErrNotTargetDomain = errors.New("URL is not on the target domain")
	ErrNoFingerprint   = errors.New("no item identifier found in target")
	ErrTargetTooLong   = errors.New("target exceeds maximum length")
)

// IsValidTarget reports whether raw names the scrape target domain.
// The check is a proper hostname comparison: the hostname must be exactly
// domain or end with "."+domain. A scheme is optional; "https://" is
// assumed when absent. Occurrences of the domain in the path do not count,
// and neither do hosts like "<domain>.attacker.tld" where the domain is a
// prefix rather than a suffix.
func IsValidTarget(raw, domain string) bool {
	if domain == "" {
		return false
	}
	host := hostnameOf(raw)
	if host == "" {
		return false
	}
	domain = strings.ToLower(domain)
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// hostnameOf extracts the lowercased hostname from a URL-shaped string.
// Returns "" for unparseable input or non-HTTP(S) schemes.
func hostnameOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// ValidFingerprint reports whether fp is a well-formed item identifier:
// non-empty, at most MaxFingerprintLength characters, ASCII digits only.
func ValidFingerprint(fp string) bool {
	if fp == "" || len(fp) > MaxFingerprintLength {
		return false
	}
	for i := 0; i < len(fp); i++ {
		if fp[i] < '0' || fp[i] > '9' {
			return false
		}
	}
	return true
}

// ExtractFingerprint resolves a scrape target to its item identifier.
// The target may be a bare numeric identifier or an item URL on the given
// domain ("/item/<id>", with an optional trailing slug). Anything else is
// rejected with a descriptive error.
func ExtractFingerprint(raw, domain string) (string, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) > MaxTargetLength {
		return "", ErrTargetTooLong
	}
	if ValidFingerprint(raw) {
		return raw, nil
	}

	if !IsValidTarget(raw, domain) {
		return "", ErrNotTargetDomain
	}

	parsed := raw
	if !strings.Contains(parsed, "://") {
		parsed = "https://" + parsed
	}
	u, err := url.Parse(parsed)
	if err != nil {
		return "", ErrNotTargetDomain
	}

	segments := strings.Split(strings.ToLower(u.Path), "/")
	for i := 0; i < len(segments)-1; i++ {
		if segments[i] != "item" {
			continue
		}
		// Item pages are /item/<id>; tolerate a "-slug" suffix.
		id, _, _ := strings.Cut(segments[i+1], "-")
		if ValidFingerprint(id) {
			return id, nil
		}
	}
	return "", ErrNoFingerprint
}
