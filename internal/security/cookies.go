package security

import (
	"errors"
	"fmt"
)

// Cookie validation constants.
const (
	MaxCookies           = 50
	MaxCookieNameLength  = 256
	MaxCookieValueLength = 4096
	MaxTotalCookieSize   = 65536 // 64KB for the whole credential bag
)

// Cookie validation errors.
var (
	ErrTooManyCookies      = errors.New("too many cookies (maximum 50)")
	ErrCookieNameEmpty     = errors.New("cookie name cannot be empty")
	ErrCookieNameTooLong   = errors.New("cookie name exceeds maximum length of 256 bytes")
	ErrCookieValueTooLong  = errors.New("cookie value exceeds maximum length of 4KB")
	ErrTotalCookiesTooLong = errors.New("total cookie size exceeds maximum of 64KB")
	ErrInvalidCookieName   = errors.New("cookie name contains invalid characters")
	ErrInvalidCookieValue  = errors.New("cookie value contains invalid characters")
)

// ValidateCookies validates an inbound credential bag before any of it
// reaches a browser. Names must be RFC 6265 tokens and values must be
// cookie-octets; either rules out header injection through the credential
// path. An aggregate size limit bounds memory per request.
func ValidateCookies(cookies map[string]string) error {
	if cookies == nil {
		return nil
	}

	if len(cookies) > MaxCookies {
		return ErrTooManyCookies
	}

	var totalSize int
	for name, value := range cookies {
		if err := validateCookieName(name); err != nil {
			return fmt.Errorf("invalid cookie name %q: %w", SanitizeForLog(name), err)
		}
		if err := validateCookieValue(value); err != nil {
			// Never echo the value; the name identifies the cookie.
			return fmt.Errorf("invalid value for cookie %q: %w", SanitizeForLog(name), err)
		}

		totalSize += len(name) + len(value) + 4
		if totalSize > MaxTotalCookieSize {
			return ErrTotalCookiesTooLong
		}
	}

	return nil
}

// validateCookieName checks that a name is a valid RFC 6265 token.
func validateCookieName(name string) error {
	if name == "" {
		return ErrCookieNameEmpty
	}
	if len(name) > MaxCookieNameLength {
		return ErrCookieNameTooLong
	}
	for i := 0; i < len(name); i++ {
		if !isTokenChar(name[i]) {
			return ErrInvalidCookieName
		}
	}
	return nil
}

// validateCookieValue checks that a value consists of cookie-octets:
// printable ASCII excluding double quote, comma, semicolon and backslash.
func validateCookieValue(value string) error {
	if len(value) > MaxCookieValueLength {
		return ErrCookieValueTooLong
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c < 0x21 || c > 0x7E || c == '"' || c == ',' || c == ';' || c == '\\' {
			return ErrInvalidCookieValue
		}
	}
	return nil
}

// isTokenChar reports whether c may appear in an RFC 6265 cookie name.
func isTokenChar(c byte) bool {
	if c <= 32 || c >= 127 {
		return false
	}
	switch c {
	case '(', ')', '<', '>', '@', ',', ';', ':', '\\', '"', '/', '[', ']', '?', '=', '{', '}':
		return false
	}
	return true
}
