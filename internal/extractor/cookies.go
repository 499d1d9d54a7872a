package extractor

import (
	"fmt"
	"sort"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/mokutsu/mfcscraper-go/internal/security"
	"github.com/mokutsu/mfcscraper-go/internal/types"
)

// cookiePlan is the result of filtering caller-supplied cookies against the
// allowlist. Values never appear here except inside params, which go
// straight to the browser.
type cookiePlan struct {
	params  []*proto.NetworkCookieParam
	unknown []string // sanitized names that were not on the allowlist
	dropped int      // allowlisted names with empty values
}

// buildCookiePlan turns raw credentials into browser cookie params. Only
// allowlisted names survive; the session cookie is hardened with HttpOnly,
// Secure and SameSite=Lax. Unknown names are collected for a names-only log
// line, never installed.
func buildCookiePlan(cookies map[string]string, allowlist []string, sessionCookie, domain string) cookiePlan {
	allowed := make(map[string]bool, len(allowlist))
	for _, name := range allowlist {
		allowed[name] = true
	}

	var plan cookiePlan
	// Deterministic order keeps logs and tests stable.
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !allowed[name] {
			plan.unknown = append(plan.unknown, security.SanitizeForLog(name))
			continue
		}
		value := cookies[name]
		if value == "" {
			plan.dropped++
			continue
		}
		param := &proto.NetworkCookieParam{
			Name:   name,
			Value:  value,
			Domain: domain,
			Path:   "/",
		}
		if name == sessionCookie {
			param.HTTPOnly = true
			param.Secure = true
			param.SameSite = proto.NetworkCookieSameSiteLax
		}
		plan.params = append(plan.params, param)
	}
	return plan
}

// installCookies applies allowlisted credentials to the page. The page must
// already be on the target origin so the browser accepts domain cookies.
func (e *Extractor) installCookies(page *rod.Page, cookies map[string]string) error {
	plan := buildCookiePlan(cookies, e.cfg.CookieAllowlist, e.cfg.SessionCookie, e.cfg.TargetDomain)

	if len(plan.unknown) > 0 {
		log.Warn().
			Strs("cookie_names", plan.unknown).
			Msg("Unknown cookies not on allowlist, skipping")
	}
	if plan.dropped > 0 {
		log.Debug().Int("count", plan.dropped).Msg("Dropped cookies with empty values")
	}
	if len(plan.params) == 0 {
		return types.NewScrapeError(types.KindAuthRequired, "", "no allowlisted cookies to install", types.ErrMissingCookies)
	}

	if err := page.SetCookies(plan.params); err != nil {
		return fmt.Errorf("install cookies: %w", err)
	}
	log.Debug().Int("count", len(plan.params)).Msg("Session cookies installed")
	return nil
}
