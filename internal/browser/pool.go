// Package browser manages a fixed pool of reusable headless Chrome
// instances plus a lazily-launched stealth singleton for credentialed
// scrapes. Pooling amortizes the browser startup cost across requests;
// per-scrape state isolation is achieved with incognito contexts, not
// by restarting browsers.
package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mokutsu/mfcscraper-go/internal/config"
	"github.com/mokutsu/mfcscraper-go/internal/security"
	"github.com/mokutsu/mfcscraper-go/internal/types"
)

// connCheckTimeout bounds the CDP roundtrip used to decide whether a
// browser connection is still alive.
const connCheckTimeout = 5 * time.Second

// maxAcquireRetries caps how many dead browsers a single Acquire call
// will discard before giving up.
const maxAcquireRetries = 5

// Pool hands out browsers from a fixed-capacity set.
//
// Lifecycle is explicit: NewPool constructs an empty pool, Initialize
// launches the browsers, CloseAll tears everything down and returns the
// pool to the uninitialized state (Initialize may then be called again,
// which is how the admin pool reset works).
//
// A browser that fails its connection check is discarded, never
// repaired: the pool shrinks and Health() surfaces the loss.
//
// Lock ordering: initMu serializes Initialize/CloseAll; mu guards the
// hot fields and is never held across browser I/O.
type Pool struct {
	cfg *config.Config

	initMu sync.Mutex
	mu     sync.Mutex

	initialized bool
	browsers    []*rod.Browser
	available   chan *rod.Browser

	stealthMu sync.Mutex
	stealth   *rod.Browser

	availableCount atomic.Int32
	stats          poolStats
}

type poolStats struct {
	acquired  atomic.Int64
	released  atomic.Int64
	discarded atomic.Int64
	errors    atomic.Int64
}

// Health is a point-in-time snapshot of pool state for the health
// endpoint and the terminal monitor.
type Health struct {
	Initialized bool     `json:"initialized"`
	Available   int      `json:"available"`
	Total       int      `json:"total"`
	Connected   int      `json:"connected"`
	HasStealth  bool     `json:"hasStealth"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Stats is a snapshot of the pool counters.
type Stats struct {
	Acquired  int64 `json:"acquired"`
	Released  int64 `json:"released"`
	Discarded int64 `json:"discarded"`
	Errors    int64 `json:"errors"`
}

// NewPool constructs an empty, uninitialized pool. Call Initialize
// before acquiring browsers.
func NewPool(cfg *config.Config) *Pool {
	return &Pool{cfg: cfg}
}

// Initialize launches the configured number of browsers. It is
// idempotent: a second call on an initialized pool is a no-op.
//
// Launch failures on individual slots are logged and skipped; the pool
// is usable as long as at least one browser came up. Only a total
// failure is an error.
func (p *Pool) Initialize(ctx context.Context) error {
	p.initMu.Lock()
	defer p.initMu.Unlock()

	p.mu.Lock()
	if p.initialized {
		p.mu.Unlock()
		log.Debug().Msg("Browser pool already initialized")
		return nil
	}
	p.mu.Unlock()

	log.Info().
		Int("pool_size", p.cfg.BrowserPoolSize).
		Bool("headless", p.cfg.Headless).
		Str("browser_path", p.cfg.BrowserPath).
		Msg("Initializing browser pool")

	launched := make([]*rod.Browser, 0, p.cfg.BrowserPoolSize)
	for i := 0; i < p.cfg.BrowserPoolSize; i++ {
		if err := ctx.Err(); err != nil {
			closeBrowsers(launched)
			return err
		}
		b, err := p.spawn(ctx)
		if err != nil {
			log.Error().Err(err).Int("slot", i).Msg("Browser launch failed, slot skipped")
			continue
		}
		launched = append(launched, b)
		log.Debug().Int("slot", i).Msg("Browser launched")
	}

	if len(launched) == 0 {
		return fmt.Errorf("%w: no browsers could be launched", types.ErrPoolNotInitialized)
	}
	if len(launched) < p.cfg.BrowserPoolSize {
		log.Warn().
			Int("launched", len(launched)).
			Int("requested", p.cfg.BrowserPoolSize).
			Msg("Pool initialized below requested capacity")
	}

	available := make(chan *rod.Browser, p.cfg.BrowserPoolSize)
	for _, b := range launched {
		available <- b
	}

	p.mu.Lock()
	p.browsers = launched
	p.available = available
	p.initialized = true
	p.mu.Unlock()
	p.availableCount.Store(int32(len(launched)))

	log.Info().Int("pool_size", len(launched)).Msg("Browser pool ready")
	return nil
}

// newLauncher builds a launcher with the fixed anti-detection and
// container flags. Each browser needs its own launcher: a launcher can
// only launch once.
func (p *Pool) newLauncher() *launcher.Launcher {
	l := launcher.New()

	if p.cfg.BrowserPath != "" {
		l = l.Bin(p.cfg.BrowserPath)
	}

	if p.cfg.Headless {
		l = l.Set("headless", "new")
	} else {
		// Rod defaults to headless; must be disabled explicitly when an
		// Xvfb display is used instead.
		l = l.Headless(false)
	}

	// Container sandbox flags.
	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage")

	if p.cfg.ProxyURL != "" {
		l = l.Set("proxy-server", p.cfg.ProxyURL)
		log.Debug().Str("proxy", security.RedactProxyURL(p.cfg.ProxyURL)).Msg("Upstream proxy configured")
	}

	// Automation masking. AutomationControlled sets navigator.webdriver,
	// the single most checked signal.
	l = l.Set("disable-blink-features", "AutomationControlled")
	l = l.Delete("enable-automation")

	// Never let WebRTC reveal the host address.
	l = l.Set("force-webrtc-ip-handling-policy", "disable_non_proxied_udp")

	l = l.Set("accept-lang", "en-US,en;q=0.9").
		Set("window-size", "1920,1080")

	l = l.Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-infobars").
		Set("disable-search-engine-choice-screen")

	l = l.Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-extensions").
		Set("disable-sync").
		Set("mute-audio")

	return l
}

// spawn launches and connects one browser.
func (p *Pool) spawn(ctx context.Context) (*rod.Browser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	url, err := p.newLauncher().Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(url)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	return b, nil
}

// Acquire returns an available browser. It blocks until one is free,
// the context ends, or the pool timeout elapses. In test mode an empty
// pool fails immediately instead of blocking.
//
// The caller must hand the browser back with Release.
func (p *Pool) Acquire(ctx context.Context) (*rod.Browser, error) {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return nil, types.ErrPoolNotInitialized
	}
	available := p.available
	p.mu.Unlock()

	if p.cfg.TestMode {
		select {
		case b, ok := <-available:
			if !ok {
				return nil, types.ErrPoolClosed
			}
			p.availableCount.Add(-1)
			p.stats.acquired.Add(1)
			return b, nil
		default:
			return nil, types.ErrPoolExhausted
		}
	}

	for retry := 0; retry < maxAcquireRetries; retry++ {
		select {
		case b, ok := <-available:
			if !ok {
				return nil, types.ErrPoolClosed
			}
			p.availableCount.Add(-1)

			if !p.isConnected(b) {
				log.Warn().Int("retry", retry).Msg("Pooled browser lost its connection, discarding")
				p.discard(b)
				continue
			}

			p.stats.acquired.Add(1)
			log.Debug().
				Int32("available", p.availableCount.Load()).
				Msg("Browser acquired")
			return b, nil

		case <-ctx.Done():
			return nil, fmt.Errorf("acquire browser: %w", ctx.Err())

		case <-time.After(p.cfg.BrowserPoolTimeout):
			p.stats.errors.Add(1)
			return nil, types.ErrPoolTimeout
		}
	}

	p.stats.errors.Add(1)
	return nil, fmt.Errorf("%w: %d consecutive browsers failed their connection check", types.ErrBrowserUnhealthy, maxAcquireRetries)
}

// Release hands a browser back to the pool. The browser is reinstated
// only if it is still connected and the pool is below capacity;
// otherwise it is closed and discarded.
//
// Safe to call with nil and after CloseAll.
func (p *Pool) Release(b *rod.Browser) {
	if b == nil {
		return
	}

	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		if err := b.Close(); err != nil {
			log.Debug().Err(err).Msg("Error closing browser released after shutdown")
		}
		return
	}
	available := p.available
	p.mu.Unlock()

	if !p.isConnected(b) {
		log.Warn().Msg("Browser returned disconnected, discarding")
		p.discard(b)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		if err := b.Close(); err != nil {
			log.Debug().Err(err).Msg("Error closing browser released during shutdown")
		}
		return
	}

	select {
	case available <- b:
		p.availableCount.Add(1)
		p.stats.released.Add(1)
		log.Debug().
			Int32("available", p.availableCount.Load()).
			Msg("Browser released")
	default:
		// Reachable only through a double release or a foreign browser;
		// benign either way.
		log.Warn().Msg("Pool at capacity, closing surplus browser")
		p.removeEntryLocked(b)
		p.stats.discarded.Add(1)
		if err := b.Close(); err != nil {
			log.Debug().Err(err).Msg("Error closing surplus browser")
		}
	}
}

// AcquireStealth returns the stealth singleton, launching it on first
// use. The stealth browser is reserved for credentialed scrapes, is
// shared by all of them, and is never returned to the pool: callers do
// not Release it. A dead singleton is relaunched transparently.
func (p *Pool) AcquireStealth(ctx context.Context) (*rod.Browser, error) {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return nil, types.ErrPoolNotInitialized
	}
	p.mu.Unlock()

	p.stealthMu.Lock()
	defer p.stealthMu.Unlock()

	if p.stealth != nil {
		if p.isConnected(p.stealth) {
			return p.stealth, nil
		}
		log.Warn().Msg("Stealth browser lost its connection, relaunching")
		if err := p.stealth.Close(); err != nil {
			log.Debug().Err(err).Msg("Error closing dead stealth browser")
		}
		p.stealth = nil
	}

	b, err := p.spawn(ctx)
	if err != nil {
		p.stats.errors.Add(1)
		return nil, fmt.Errorf("launch stealth browser: %w", err)
	}
	p.stealth = b
	log.Info().Msg("Stealth browser launched")
	return b, nil
}

// Health reports pool state with warnings for conditions an operator
// should notice: exhaustion and dead browsers.
func (p *Pool) Health() Health {
	p.mu.Lock()
	initialized := p.initialized
	browsers := make([]*rod.Browser, len(p.browsers))
	copy(browsers, p.browsers)
	p.mu.Unlock()

	h := Health{
		Initialized: initialized,
		Available:   int(p.availableCount.Load()),
		Total:       len(browsers),
	}

	p.stealthMu.Lock()
	h.HasStealth = p.stealth != nil
	p.stealthMu.Unlock()

	if !initialized {
		h.Warnings = append(h.Warnings, "pool not initialized")
		return h
	}

	for i, b := range browsers {
		if p.isConnected(b) {
			h.Connected++
		} else {
			h.Warnings = append(h.Warnings, fmt.Sprintf("browser %d disconnected", i))
		}
	}
	if h.Total > 0 && h.Available == 0 {
		h.Warnings = append(h.Warnings, "all pool browsers in use")
	}
	return h
}

// CloseAll closes every pooled browser and the stealth singleton, then
// marks the pool uninitialized. Close errors on individual browsers are
// recorded and swallowed. Safe to call repeatedly.
func (p *Pool) CloseAll() {
	p.initMu.Lock()
	defer p.initMu.Unlock()

	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		p.closeStealth()
		return
	}
	p.initialized = false
	browsers := p.browsers
	p.browsers = nil
	available := p.available
	p.available = nil
	p.mu.Unlock()

	// Pending Acquire calls see the closed channel and fail with
	// ErrPoolClosed. Browsers drained here are already in the slice.
	close(available)
	for range available {
	}

	log.Info().Int("count", len(browsers)).Msg("Closing browser pool")

	eg := new(errgroup.Group)
	eg.SetLimit(4)
	for _, b := range browsers {
		b := b
		eg.Go(func() error {
			if err := b.Close(); err != nil {
				p.stats.errors.Add(1)
				log.Warn().Err(err).Msg("Error closing pooled browser")
			}
			return nil
		})
	}
	_ = eg.Wait()

	p.closeStealth()
	p.availableCount.Store(0)
	log.Info().Msg("Browser pool closed")
}

func (p *Pool) closeStealth() {
	p.stealthMu.Lock()
	defer p.stealthMu.Unlock()
	if p.stealth == nil {
		return
	}
	if err := p.stealth.Close(); err != nil {
		p.stats.errors.Add(1)
		log.Warn().Err(err).Msg("Error closing stealth browser")
	}
	p.stealth = nil
}

// Size returns the configured capacity, not the live browser count.
func (p *Pool) Size() int {
	return p.cfg.BrowserPoolSize
}

// Available returns how many browsers are currently idle in the pool.
func (p *Pool) Available() int {
	p.mu.Lock()
	initialized := p.initialized
	p.mu.Unlock()
	if !initialized {
		return 0
	}
	return int(p.availableCount.Load())
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Acquired:  p.stats.acquired.Load(),
		Released:  p.stats.released.Load(),
		Discarded: p.stats.discarded.Load(),
		Errors:    p.stats.errors.Load(),
	}
}

// isConnected performs a cheap CDP roundtrip to verify the browser
// process is alive and answering.
func (p *Pool) isConnected(b *rod.Browser) bool {
	ctx, cancel := context.WithTimeout(context.Background(), connCheckTimeout)
	defer cancel()
	_, err := proto.BrowserGetVersion{}.Call(b.Context(ctx))
	return err == nil
}

// discard closes a browser and drops it from the tracking slice. The
// pool shrinks; dead browsers are not replaced.
func (p *Pool) discard(b *rod.Browser) {
	p.mu.Lock()
	p.removeEntryLocked(b)
	p.mu.Unlock()

	p.stats.discarded.Add(1)
	if err := b.Close(); err != nil {
		log.Debug().Err(err).Msg("Error closing discarded browser")
	}
}

// removeEntryLocked drops a browser from the tracking slice. Caller
// holds mu. Swap-with-last keeps removal O(1).
func (p *Pool) removeEntryLocked(b *rod.Browser) {
	for i, entry := range p.browsers {
		if entry == b {
			last := len(p.browsers) - 1
			if i != last {
				p.browsers[i] = p.browsers[last]
			}
			p.browsers = p.browsers[:last]
			return
		}
	}
}

func closeBrowsers(browsers []*rod.Browser) {
	for _, b := range browsers {
		if err := b.Close(); err != nil {
			log.Debug().Err(err).Msg("Error closing browser during init cleanup")
		}
	}
}
