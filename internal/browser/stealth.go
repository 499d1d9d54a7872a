package browser

import (
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"

	"github.com/mokutsu/mfcscraper-go/pkg/version"
)

// heavyResourcePatterns are the URL patterns blocked when media loading
// is disabled. Item pages are scraped from the DOM, so skipping the
// actual image/font/media downloads saves bandwidth without losing any
// extractable field (src attributes are still populated).
var heavyResourcePatterns = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.ico", "*.bmp",
	"*.woff", "*.woff2", "*.ttf", "*.otf", "*.eot",
	"*.mp4", "*.webm", "*.mp3", "*.ogg", "*.wav",
}

// NewStealthPage creates a page with automation-masking patches
// injected before any document loads, plus the standard user agent and
// viewport. Use it on the stealth singleton (or an incognito context of
// it) for credentialed scrapes.
func NewStealthPage(b *rod.Browser) (*rod.Page, error) {
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("create stealth page: %w", err)
	}
	if err := SetupPage(page); err != nil {
		if closeErr := page.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Msg("Error closing half-configured stealth page")
		}
		return nil, err
	}
	return page, nil
}

// NewPage creates a plain page with the standard user agent and
// viewport. Use it on pooled browsers (or incognito contexts of them)
// for uncredentialed scrapes.
func NewPage(b *rod.Browser) (*rod.Page, error) {
	page, err := b.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	if err := SetupPage(page); err != nil {
		if closeErr := page.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Msg("Error closing half-configured page")
		}
		return nil, err
	}
	return page, nil
}

// SetupPage applies the shared page configuration: consistent user
// agent and a standard desktop viewport.
func SetupPage(page *rod.Page) error {
	if err := SetUserAgent(page, version.UserAgent); err != nil {
		return fmt.Errorf("set user agent: %w", err)
	}
	if err := SetViewport(page, 1920, 1080); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	return nil
}

// BlockHeavyResources stops the page from downloading images, fonts and
// media. Blocking happens at the network layer; the DOM still carries
// the URLs the extractor reads.
func BlockHeavyResources(page *rod.Page) error {
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return fmt.Errorf("enable network domain: %w", err)
	}
	if err := (proto.NetworkSetBlockedURLs{Urls: heavyResourcePatterns}).Call(page); err != nil {
		return fmt.Errorf("set blocked urls: %w", err)
	}
	log.Debug().Int("patterns", len(heavyResourcePatterns)).Msg("Heavy resource loading blocked")
	return nil
}

// SetUserAgent overrides the page user agent.
func SetUserAgent(page *rod.Page, userAgent string) error {
	return proto.NetworkSetUserAgentOverride{
		UserAgent: userAgent,
	}.Call(page)
}

// SetViewport sets the page viewport size.
func SetViewport(page *rod.Page, width, height int) error {
	return page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
		Mobile:            false,
	})
}
