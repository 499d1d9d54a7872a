package ratelimit

import (
	"regexp"
	"strings"
)

// maxBodyLenForRegex limits the body size for regex matching to prevent
// ReDoS with attacker-sized pages. 100KB is plenty for error notices.
const maxBodyLenForRegex = 100 * 1024

// ErrorPattern defines a detection pattern and its metadata.
type ErrorPattern struct {
	Pattern     *regexp.Regexp
	ErrorCode   string
	Description string
}

// Info contains detected rate limit information.
type Info struct {
	Detected    bool
	ErrorCode   string
	Description string
}

// bodyPatterns are the rate-limit body markers, ordered by specificity.
// Patterns use [^<]{0,N} instead of .{0,N} so they match across inline
// markup without backtracking over whole elements.
var bodyPatterns = []ErrorPattern{
	{
		Pattern:     regexp.MustCompile(`(?i)error[^<]{0,10}code[^<]{0,5}:?\s{0,5}1015`),
		ErrorCode:   "CF_1015",
		Description: "Cloudflare rate limit exceeded",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)too\s{1,5}many\s{1,5}requests`),
		ErrorCode:   "TOO_MANY_REQUESTS",
		Description: "Too many requests",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)rate\s{0,3}limit`),
		ErrorCode:   "RATE_LIMITED",
		Description: "Generic rate limit",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)you\s{1,5}(have\s{1,5}been\s{1,5})?blocked`),
		ErrorCode:   "BLOCKED",
		Description: "Request blocked",
	},
}

// Detect analyzes the main-document HTTP status and page body for
// rate-limit indicators. Body patterns override the plain status match
// with a more specific code.
func Detect(statusCode int, body string) Info {
	info := Info{}

	if len(body) > maxBodyLenForRegex {
		body = body[:maxBodyLenForRegex]
	}

	switch statusCode {
	case 429:
		info = Info{
			Detected:    true,
			ErrorCode:   "HTTP_429",
			Description: "HTTP 429 Too Many Requests",
		}
	case 503:
		info = Info{
			Detected:    true,
			ErrorCode:   "HTTP_503",
			Description: "HTTP 503 Service Unavailable",
		}
	}

	for _, pattern := range bodyPatterns {
		if pattern.Pattern.MatchString(body) {
			info = Info{
				Detected:    true,
				ErrorCode:   pattern.ErrorCode,
				Description: pattern.Description,
			}
			break
		}
	}

	// A bare Cloudflare 403 without an error code still means the edge
	// refused us; treat it as a rate-limit class signal.
	if statusCode == 403 && !info.Detected {
		if strings.Contains(strings.ToLower(body), "cloudflare") {
			info = Info{
				Detected:    true,
				ErrorCode:   "CF_403",
				Description: "Cloudflare 403 Forbidden",
			}
		}
	}

	return info
}

// IsCloudflare reports whether a detected signal came from the Cloudflare
// edge rather than the site itself.
func (i Info) IsCloudflare() bool {
	return strings.HasPrefix(i.ErrorCode, "CF_")
}
