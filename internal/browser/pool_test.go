package browser

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-rod/rod"

	"github.com/mokutsu/mfcscraper-go/internal/config"
	"github.com/mokutsu/mfcscraper-go/internal/types"
)

// testConfig returns a configuration suitable for testing.
// Uses a small pool size and short timeouts.
func testConfig() *config.Config {
	return &config.Config{
		Headless:           true,
		BrowserPoolSize:    2,
		BrowserPoolTimeout: 10 * time.Second,
	}
}

// skipBrowser skips tests that launch real browsers.
func skipBrowser(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping browser test in short mode")
	}
}

// fakeInitialized flips the pool into the initialized state without
// launching anything, so lifecycle behavior is testable without Chrome.
func fakeInitialized(p *Pool, capacity int) chan *rod.Browser {
	ch := make(chan *rod.Browser, capacity)
	p.mu.Lock()
	p.initialized = true
	p.available = ch
	p.mu.Unlock()
	return ch
}

func TestAcquire_NotInitialized(t *testing.T) {
	pool := NewPool(testConfig())

	_, err := pool.Acquire(context.Background())
	if err != types.ErrPoolNotInitialized {
		t.Errorf("Acquire() error = %v, want ErrPoolNotInitialized", err)
	}

	_, err = pool.AcquireStealth(context.Background())
	if err != types.ErrPoolNotInitialized {
		t.Errorf("AcquireStealth() error = %v, want ErrPoolNotInitialized", err)
	}
}

func TestAcquire_TestModeFastFail(t *testing.T) {
	cfg := testConfig()
	cfg.TestMode = true
	pool := NewPool(cfg)
	fakeInitialized(pool, cfg.BrowserPoolSize)

	start := time.Now()
	_, err := pool.Acquire(context.Background())
	if err != types.ErrPoolExhausted {
		t.Errorf("Acquire() error = %v, want ErrPoolExhausted", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Test-mode acquire blocked for %v, want immediate failure", elapsed)
	}
}

func TestAcquire_Timeout(t *testing.T) {
	cfg := testConfig()
	cfg.BrowserPoolTimeout = 200 * time.Millisecond
	pool := NewPool(cfg)
	fakeInitialized(pool, cfg.BrowserPoolSize)

	start := time.Now()
	_, err := pool.Acquire(context.Background())
	elapsed := time.Since(start)

	if err != types.ErrPoolTimeout {
		t.Errorf("Acquire() error = %v, want ErrPoolTimeout", err)
	}
	if elapsed < 150*time.Millisecond || elapsed > time.Second {
		t.Errorf("Acquire() waited %v, want ~200ms", elapsed)
	}
}

func TestAcquire_ContextCancellation(t *testing.T) {
	pool := NewPool(testConfig())
	fakeInitialized(pool, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := pool.Acquire(ctx)
	if err == nil {
		t.Fatal("Acquire() succeeded on empty pool with expiring context")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Acquire() took %v after context expiry, want prompt return", elapsed)
	}
}

func TestRelease_NilIsNoop(t *testing.T) {
	pool := NewPool(testConfig())
	pool.Release(nil)
}

func TestHealth_Uninitialized(t *testing.T) {
	pool := NewPool(testConfig())

	h := pool.Health()
	if h.Initialized {
		t.Error("Health().Initialized = true before Initialize")
	}
	if h.Available != 0 || h.Total != 0 || h.Connected != 0 {
		t.Errorf("Health() = %+v, want zero counts", h)
	}
	if h.HasStealth {
		t.Error("Health().HasStealth = true before any stealth launch")
	}
	if len(h.Warnings) == 0 {
		t.Error("Health() on uninitialized pool reported no warnings")
	}
}

func TestHealth_AllInUseWarning(t *testing.T) {
	pool := NewPool(testConfig())
	fakeInitialized(pool, 2)
	pool.mu.Lock()
	pool.browsers = make([]*rod.Browser, 0) // no live browsers to probe
	pool.mu.Unlock()

	h := pool.Health()
	if !h.Initialized {
		t.Fatal("Health().Initialized = false after initialization")
	}
	// Total is zero here, so the all-in-use warning must not fire.
	for _, w := range h.Warnings {
		if w == "all pool browsers in use" {
			t.Errorf("Warning %q fired with zero browsers", w)
		}
	}
}

func TestCloseAll_UninitializedIsNoop(t *testing.T) {
	pool := NewPool(testConfig())
	pool.CloseAll()
	pool.CloseAll()
}

func TestCloseAll_FailsPendingAcquires(t *testing.T) {
	pool := NewPool(testConfig())
	fakeInitialized(pool, 2)

	errCh := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(context.Background())
		errCh <- err
	}()

	// Let the acquire block on the empty channel first.
	time.Sleep(50 * time.Millisecond)
	pool.CloseAll()

	select {
	case err := <-errCh:
		if err != types.ErrPoolClosed {
			t.Errorf("Acquire() error = %v, want ErrPoolClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire() still blocked after CloseAll")
	}

	// Acquire after CloseAll sees the uninitialized pool.
	if _, err := pool.Acquire(context.Background()); err != types.ErrPoolNotInitialized {
		t.Errorf("Acquire() after CloseAll error = %v, want ErrPoolNotInitialized", err)
	}
}

func TestSizeAndAvailable(t *testing.T) {
	pool := NewPool(testConfig())
	if pool.Size() != 2 {
		t.Errorf("Size() = %d, want 2", pool.Size())
	}
	if pool.Available() != 0 {
		t.Errorf("Available() = %d on uninitialized pool, want 0", pool.Available())
	}
}

// Tests below this point launch real browsers.

func TestInitialize_AcquireRelease(t *testing.T) {
	skipBrowser(t)

	cfg := testConfig()
	pool := NewPool(cfg)
	if err := pool.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer pool.CloseAll()

	if pool.Available() != cfg.BrowserPoolSize {
		t.Errorf("Available() = %d, want %d", pool.Available(), cfg.BrowserPoolSize)
	}

	// Initialize is idempotent.
	if err := pool.Initialize(context.Background()); err != nil {
		t.Fatalf("Second Initialize() error = %v", err)
	}
	if pool.Available() != cfg.BrowserPoolSize {
		t.Errorf("Available() after reinit = %d, want %d", pool.Available(), cfg.BrowserPoolSize)
	}

	b, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if pool.Available() != cfg.BrowserPoolSize-1 {
		t.Errorf("Available() = %d after acquire, want %d", pool.Available(), cfg.BrowserPoolSize-1)
	}

	pool.Release(b)
	if pool.Available() != cfg.BrowserPoolSize {
		t.Errorf("Available() = %d after release, want %d", pool.Available(), cfg.BrowserPoolSize)
	}

	st := pool.Stats()
	if st.Acquired != 1 || st.Released != 1 {
		t.Errorf("Stats() = %+v, want acquired=1 released=1", st)
	}
}

func TestAcquireStealth_Singleton(t *testing.T) {
	skipBrowser(t)

	pool := NewPool(testConfig())
	if err := pool.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer pool.CloseAll()

	b1, err := pool.AcquireStealth(context.Background())
	if err != nil {
		t.Fatalf("AcquireStealth() error = %v", err)
	}
	b2, err := pool.AcquireStealth(context.Background())
	if err != nil {
		t.Fatalf("Second AcquireStealth() error = %v", err)
	}
	if b1 != b2 {
		t.Error("AcquireStealth() returned different browsers, want singleton")
	}

	// The singleton never sits in the shared pool.
	if pool.Available() != pool.Size() {
		t.Errorf("Available() = %d after stealth acquire, want %d", pool.Available(), pool.Size())
	}

	h := pool.Health()
	if !h.HasStealth {
		t.Error("Health().HasStealth = false after stealth launch")
	}
}

func TestIncognitoIsolation(t *testing.T) {
	skipBrowser(t)

	pool := NewPool(testConfig())
	if err := pool.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer pool.CloseAll()

	b, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer pool.Release(b)

	first, err := b.Incognito()
	if err != nil {
		t.Fatalf("Incognito() error = %v", err)
	}
	page, err := NewPage(first)
	if err != nil {
		t.Fatalf("NewPage() error = %v", err)
	}
	if err := page.Navigate("about:blank"); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	if _, err := page.Eval(`() => { document.cookie = "probe=1"; }`); err != nil {
		t.Logf("cookie set unsupported on about:blank: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Incognito Close() error = %v", err)
	}

	// A second context starts clean.
	second, err := b.Incognito()
	if err != nil {
		t.Fatalf("Second Incognito() error = %v", err)
	}
	defer second.Close()
	cookies, err := second.GetCookies()
	if err != nil {
		t.Fatalf("GetCookies() error = %v", err)
	}
	if len(cookies) != 0 {
		t.Errorf("Fresh incognito context carries %d cookies, want 0", len(cookies))
	}
}

func TestConcurrentAcquireRelease(t *testing.T) {
	skipBrowser(t)

	cfg := testConfig()
	cfg.BrowserPoolSize = 3
	pool := NewPool(cfg)
	if err := pool.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer pool.CloseAll()

	const goroutines = 10
	const iterations = 5

	var wg sync.WaitGroup
	errCh := make(chan error, goroutines*iterations)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				b, err := pool.Acquire(ctx)
				if err != nil {
					errCh <- err
					cancel()
					continue
				}
				time.Sleep(20 * time.Millisecond)
				pool.Release(b)
				cancel()
			}
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("Concurrent acquire failed: %v", err)
	}
}
