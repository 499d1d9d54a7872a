// Package patterns provides challenge and error page detection patterns.
package patterns

import (
	"embed"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/mokutsu/mfcscraper-go/internal/similarity"
)

//go:embed patterns.yaml
var defaultPatternsFS embed.FS

// Similarity thresholds for the edit-distance fallback. Titles are short
// and match tightly; visible body text tolerates more drift.
const (
	TitleSimilarityThreshold = 0.80
	BodySimilarityThreshold  = 0.70
)

// Patterns contains all page classification patterns.
type Patterns struct {
	// Anti-bot challenge pages
	ChallengeTitles []string `yaml:"challenge_titles"`
	ChallengeBody   []string `yaml:"challenge_body"`

	// Site error pages (404 and friends)
	ErrorTitles  []string `yaml:"error_titles"`
	ErrorMarkers []string `yaml:"error_markers"`

	// Items hidden behind an account (adult-flagged, club-only)
	RestrictedMarkers []string `yaml:"restricted_markers"`

	// Explicit rate-limit pages
	RateLimitMarkers []string `yaml:"rate_limit_markers"`

	// CSS selectors that prove an authenticated session
	SignedInSelectors []string `yaml:"signed_in_selectors"`
}

var (
	instance *Patterns
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Patterns instance.
// Patterns are loaded from the embedded patterns.yaml file.
func Get() *Patterns {
	once.Do(func() {
		instance, loadErr = load()
		if loadErr != nil {
			log.Error().Err(loadErr).Msg("Failed to load patterns, using defaults")
			instance = defaultPatterns()
		}
	})
	return instance
}

// load reads patterns from the embedded YAML file.
func load() (*Patterns, error) {
	data, err := defaultPatternsFS.ReadFile("patterns.yaml")
	if err != nil {
		return nil, err
	}

	var p Patterns
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}

	log.Debug().
		Int("challenge_titles", len(p.ChallengeTitles)).
		Int("challenge_body", len(p.ChallengeBody)).
		Int("error_markers", len(p.ErrorMarkers)).
		Int("signed_in_selectors", len(p.SignedInSelectors)).
		Msg("Patterns loaded")

	return &p, nil
}

// normalize lowercases and collapses whitespace runs so pattern matching
// survives markup-driven spacing.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// MatchTitle checks a page title against the challenge title patterns.
// Substring match first, then the edit-distance fallback. Returns the
// matched pattern for logging.
func (p *Patterns) MatchTitle(title string) (string, bool) {
	norm := normalize(title)
	if norm == "" {
		return "", false
	}
	for _, pattern := range p.ChallengeTitles {
		if strings.Contains(norm, normalize(pattern)) {
			return pattern, true
		}
	}
	for _, pattern := range p.ChallengeTitles {
		if similarity.Similarity(norm, normalize(pattern)) >= TitleSimilarityThreshold {
			return pattern, true
		}
	}
	return "", false
}

// MatchBody checks visible page text against the challenge body patterns.
// Challenge interstitials have little visible text, so the similarity
// fallback compares the whole (capped) text against full reference bodies.
func (p *Patterns) MatchBody(text string) (string, bool) {
	norm := normalize(text)
	if norm == "" {
		return "", false
	}
	for _, pattern := range p.ChallengeBody {
		if strings.Contains(norm, normalize(pattern)) {
			return pattern, true
		}
	}
	for _, pattern := range p.ChallengeBody {
		if similarity.Similarity(norm, normalize(pattern)) >= BodySimilarityThreshold {
			return pattern, true
		}
	}
	return "", false
}

// IsChallenge reports whether the page looks like an anti-bot challenge.
func (p *Patterns) IsChallenge(title, body string) bool {
	if _, ok := p.MatchTitle(title); ok {
		return true
	}
	_, ok := p.MatchBody(body)
	return ok
}

// IsErrorPage reports whether the page is a site 404/error page.
func (p *Patterns) IsErrorPage(title, body string) bool {
	normTitle := normalize(title)
	for _, pattern := range p.ErrorTitles {
		if pattern != "" && strings.Contains(normTitle, normalize(pattern)) {
			return true
		}
	}
	normBody := normalize(body)
	for _, pattern := range p.ErrorMarkers {
		if pattern != "" && strings.Contains(normBody, normalize(pattern)) {
			return true
		}
	}
	return false
}

// IsRestricted reports whether the page gates the item behind an account.
func (p *Patterns) IsRestricted(body string) bool {
	norm := normalize(body)
	for _, pattern := range p.RestrictedMarkers {
		if pattern != "" && strings.Contains(norm, normalize(pattern)) {
			return true
		}
	}
	return false
}

// IsRateLimited reports whether the page is an explicit rate-limit notice.
func (p *Patterns) IsRateLimited(body string) bool {
	norm := normalize(body)
	for _, pattern := range p.RateLimitMarkers {
		if pattern != "" && strings.Contains(norm, normalize(pattern)) {
			return true
		}
	}
	return false
}

// defaultPatterns returns hardcoded fallback patterns.
func defaultPatterns() *Patterns {
	return &Patterns{
		ChallengeTitles: []string{
			"just a moment",
			"attention required",
			"checking your browser",
			"verification required",
			"un momento",
			"nur einen moment",
			"しばらくお待ちください",
		},
		ChallengeBody: []string{
			"checking your browser before accessing",
			"verifying you are human",
			"enable javascript and cookies to continue",
			"needs to review the security of your connection",
			"performance & security by cloudflare",
			"ddos protection by",
		},
		ErrorTitles: []string{
			"404",
			"page not found",
		},
		ErrorMarkers: []string{
			"the page you are looking for does not exist",
			"this item does not exist",
			"nothing to see here",
		},
		RestrictedMarkers: []string{
			"you must be signed in",
			"adult content",
			"mature content",
		},
		RateLimitMarkers: []string{
			"too many requests",
			"error 1015",
			"you are being rate limited",
		},
		SignedInSelectors: []string{
			"a[href^='/profile/']",
			borderNavSelector,
		},
	}
}

// borderNavSelector is the signed-in user menu shown in the site header.
const borderNavSelector = ".user-menu"
