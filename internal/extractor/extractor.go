// Package extractor drives a pooled browser through a single item-page
// scrape: credential install, navigation, challenge wait, outcome
// classification, and structured record extraction.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/mokutsu/mfcscraper-go/internal/browser"
	"github.com/mokutsu/mfcscraper-go/internal/config"
	"github.com/mokutsu/mfcscraper-go/internal/humanize"
	"github.com/mokutsu/mfcscraper-go/internal/metrics"
	"github.com/mokutsu/mfcscraper-go/internal/patterns"
	"github.com/mokutsu/mfcscraper-go/internal/ratelimit"
	"github.com/mokutsu/mfcscraper-go/internal/security"
	"github.com/mokutsu/mfcscraper-go/internal/types"
)

// settleJitter randomizes the post-load settle so page loads do not tick
// with machine regularity.
const settleJitter = 0.25

// Extractor performs page scrapes against pooled browsers. It is safe for
// concurrent use; every scrape gets its own incognito browser context.
type Extractor struct {
	cfg      *config.Config
	pool     *browser.Pool
	patterns *patterns.Manager
}

// Request describes a single page scrape.
type Request struct {
	URL         string
	Fingerprint string
	// Cookies are raw credentials as supplied by the caller. They are
	// filtered against the allowlist before anything touches the browser.
	Cookies map[string]string
}

func (r Request) credentialed() bool { return len(r.Cookies) > 0 }

// New wires an Extractor to its browser pool and pattern source.
func New(cfg *config.Config, pool *browser.Pool, pm *patterns.Manager) *Extractor {
	return &Extractor{cfg: cfg, pool: pool, patterns: pm}
}

// Extract scrapes one item page and returns its record. Classified outcomes
// come back as *types.ScrapeError; infrastructure failures (pool, browser)
// keep their original types so callers can match sentinels.
func (e *Extractor) Extract(ctx context.Context, req Request) (*types.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ScrapeTimeout)
	defer cancel()

	start := time.Now()
	page, cleanup, err := e.openPage(ctx, req.credentialed())
	if err != nil {
		return nil, err
	}
	defer cleanup()

	capture, stopCapture := captureDocumentResponses(ctx, page)
	defer stopCapture()

	if req.credentialed() {
		if err := e.applyCredentials(ctx, page, req.Cookies); err != nil {
			return nil, err
		}
	}

	if err := e.navigate(ctx, page, req.URL); err != nil {
		return nil, err
	}
	e.settle(ctx, page)
	e.waitOutChallenge(ctx, page, req.URL)

	pageHTML, err := page.HTML()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, types.NewScrapeError(types.KindTimeout, req.URL, "scrape deadline exceeded reading page", ctx.Err())
		}
		return nil, fmt.Errorf("read page html: %w", err)
	}
	title := pageTitle(page)
	body := VisibleText(pageHTML, maxVisibleChars)

	if err := e.classify(capture, title, body, req); err != nil {
		return nil, err
	}

	rec := ParseRecord(pageHTML, req.URL, req.Fingerprint)
	rec.ScrapedAt = time.Now().UnixMilli()

	log.Info().
		Str("fingerprint", req.Fingerprint).
		Str("name", security.SanitizeForLog(rec.Name)).
		Int("status", capture.Status()).
		Bool("credentialed", req.credentialed()).
		Dur("elapsed", time.Since(start)).
		Msg("Item extracted")
	return rec, nil
}

// ValidateLogin loads the site front page with the given credentials and
// looks for a signed-in marker. It satisfies the session Validator
// interface: ok=false with nil error is a definitive "not signed in", a
// non-nil error is a transport problem the caller should not cache.
func (e *Extractor) ValidateLogin(ctx context.Context, cookies map[string]string) (bool, string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ScrapeTimeout)
	defer cancel()

	page, cleanup, err := e.openPage(ctx, true)
	if err != nil {
		return false, "", err
	}
	defer cleanup()

	if err := e.applyCredentials(ctx, page, cookies); err != nil {
		return false, "", err
	}
	// Reload the front page now that the session cookies are active.
	if err := e.navigate(ctx, page, e.cfg.Origin()); err != nil {
		return false, "", err
	}
	e.settle(ctx, page)

	pats := e.patterns.Get()
	for _, sel := range pats.SignedInSelectors {
		has, _, err := page.Has(sel)
		if err != nil {
			continue
		}
		if has {
			return true, "signed-in marker present", nil
		}
	}
	return false, "signed-in marker not found", nil
}

// openPage acquires a browser, clones an incognito context, and opens a
// configured page in it. Credentialed work goes to the shared stealth
// browser; anonymous work draws from the pool. The cleanup closes the page
// and disposes the incognito context, and returns pooled browsers.
func (e *Extractor) openPage(ctx context.Context, credentialed bool) (*rod.Page, func(), error) {
	var (
		b       *rod.Browser
		release func()
		err     error
	)
	if credentialed {
		b, err = e.pool.AcquireStealth(ctx)
		release = func() {}
	} else {
		b, err = e.pool.Acquire(ctx)
		release = func() { e.pool.Release(b) }
	}
	if err != nil {
		return nil, nil, err
	}

	inc, err := b.Incognito()
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("create incognito context: %w", err)
	}

	var page *rod.Page
	if credentialed {
		page, err = browser.NewStealthPage(inc)
	} else {
		page, err = browser.NewPage(inc)
	}
	if err != nil {
		if cerr := inc.Close(); cerr != nil {
			log.Debug().Err(cerr).Msg("Error disposing incognito context")
		}
		release()
		return nil, nil, err
	}

	if e.cfg.DisableMedia {
		if err := browser.BlockHeavyResources(page); err != nil {
			log.Warn().Err(err).Msg("Resource blocking unavailable, loading everything")
		}
	}

	cleanup := func() {
		if err := page.Close(); err != nil {
			log.Debug().Err(err).Msg("Error closing page")
		}
		if err := inc.Close(); err != nil {
			log.Debug().Err(err).Msg("Error disposing incognito context")
		}
		release()
	}
	return page, cleanup, nil
}

// applyCredentials establishes domain context and installs allowlisted
// cookies. The browser only accepts domain cookies once a page from that
// origin is open, so this navigates the front page first.
func (e *Extractor) applyCredentials(ctx context.Context, page *rod.Page, cookies map[string]string) error {
	if err := e.navigate(ctx, page, e.cfg.Origin()); err != nil {
		return err
	}
	return e.installCookies(page, cookies)
}

// navigate loads a URL and waits for DOM content with a bounded timeout.
func (e *Extractor) navigate(ctx context.Context, page *rod.Page, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, e.cfg.NavigationTimeout)
	defer cancel()

	p := page.Context(navCtx)
	wait := p.WaitEvent(&proto.PageDomContentEventFired{})
	if err := p.Navigate(url); err != nil {
		return types.NewScrapeError(types.KindNetwork, url,
			fmt.Sprintf("navigation failed: %v", err), types.ErrNavigationFailed)
	}
	wait()

	if navCtx.Err() != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return types.NewCancelledError(url)
		}
		return types.NewScrapeError(types.KindTimeout, url, "navigation timed out waiting for DOM content", navCtx.Err())
	}
	return nil
}

// settle gives the page time to run its scripts and nudges lazy-loaded
// content into view. Scroll failures only cost us below-the-fold images.
func (e *Extractor) settle(ctx context.Context, page *rod.Page) {
	if !humanize.SleepWithJitter(ctx, e.cfg.PostLoadSettle, settleJitter) {
		return
	}
	sc := humanize.NewScroller(page)
	if err := sc.ScrollBy(ctx, float64(400+rand.Intn(500))); err != nil {
		log.Debug().Err(err).Msg("Settle scroll failed")
		return
	}
	if err := sc.ScrollToTop(ctx); err != nil {
		log.Debug().Err(err).Msg("Scroll back to top failed")
	}
}

// waitOutChallenge polls the page while an interstitial challenge is
// showing. Most clear on their own within a few seconds. On timeout we
// proceed anyway and let classification decide what the page became.
func (e *Extractor) waitOutChallenge(ctx context.Context, page *rod.Page, url string) {
	pats := e.patterns.Get()
	title, body := observePage(page)
	if !pats.IsChallenge(title, body) {
		return
	}

	log.Info().
		Str("url", security.RedactURL(url)).
		Str("title", security.SanitizeForLog(title)).
		Msg("Challenge page detected, waiting it out")

	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.ChallengeWaitTimeout)
	defer cancel()
	for {
		if !humanize.SleepWithContext(waitCtx, humanize.RandomPollInterval()) {
			metrics.RecordChallenge(false)
			log.Warn().Str("url", security.RedactURL(url)).Msg("Challenge did not clear in time, proceeding")
			return
		}
		title, body = observePage(page)
		if !pats.IsChallenge(title, body) {
			metrics.RecordChallenge(true)
			log.Info().Msg("Challenge cleared")
			return
		}
	}
}

// classify turns the final page state into a typed outcome. Order matters:
// rate-limit signals trump content classification, and a persistent
// challenge counts as a rate limit because it means the edge does not trust
// this client yet.
func (e *Extractor) classify(capture *statusCapture, title, body string, req Request) error {
	status := capture.Status()

	if info := ratelimit.Detect(status, body); info.Detected {
		log.Warn().
			Int("status", status).
			Str("error_code", info.ErrorCode).
			Bool("cloudflare", info.IsCloudflare()).
			Msg("Rate limit page served")
		return types.NewScrapeError(types.KindRateLimited, req.URL, info.Description, nil)
	}

	pats := e.patterns.Get()
	if pats.IsRateLimited(body) {
		return types.NewScrapeError(types.KindRateLimited, req.URL, "rate limit notice on page", nil)
	}
	if pats.IsChallenge(title, body) {
		return types.NewScrapeError(types.KindRateLimited, req.URL, "challenge page persisted", nil)
	}

	if pats.IsErrorPage(title, body) || status == 404 {
		// The site serves the same error shell for missing items and items
		// the viewer is not allowed to see. Credentials decide which.
		if req.credentialed() {
			return types.NewItemNotAccessibleError(req.URL)
		}
		return types.NewNotFoundError(req.URL)
	}
	if pats.IsRestricted(body) {
		if req.credentialed() {
			return types.NewItemNotAccessibleError(req.URL)
		}
		return types.NewScrapeError(types.KindAuthRequired, req.URL,
			"item requires an authenticated session ("+types.NSFWSentinel+")", nil)
	}
	return nil
}

func pageTitle(page *rod.Page) string {
	info, err := page.Info()
	if err != nil {
		return ""
	}
	return info.Title
}

func observePage(page *rod.Page) (title, body string) {
	title = pageTitle(page)
	if pageHTML, err := page.HTML(); err == nil {
		body = VisibleText(pageHTML, maxVisibleChars)
	}
	return title, body
}
