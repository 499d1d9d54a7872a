package extractor

import (
	"strings"
	"testing"

	"github.com/mokutsu/mfcscraper-go/internal/config"
	"github.com/mokutsu/mfcscraper-go/internal/patterns"
	"github.com/mokutsu/mfcscraper-go/internal/types"
)

const testItemURL = "https://myfigurecollection.net/item/287"

func testExtractor(t *testing.T) *Extractor {
	t.Helper()
	pm, err := patterns.NewManager("", false)
	if err != nil {
		t.Fatalf("patterns manager: %v", err)
	}
	t.Cleanup(func() { _ = pm.Close() })

	cfg := &config.Config{TargetDomain: "myfigurecollection.net"}
	return New(cfg, nil, pm)
}

func captureWith(status int) *statusCapture {
	c := newStatusCapture()
	c.record(status, testItemURL, nil)
	return c
}

func anonRequest() Request {
	return Request{URL: testItemURL, Fingerprint: "287"}
}

func credRequest() Request {
	return Request{URL: testItemURL, Fingerprint: "287", Cookies: map[string]string{"PHPSESSID": "s"}}
}

func TestClassify_CleanPage(t *testing.T) {
	e := testExtractor(t)
	err := e.classify(captureWith(200), "Hatsune Miku - Collection", "Prepainted figure by Good Smile Company", anonRequest())
	if err != nil {
		t.Fatalf("clean page classified as error: %v", err)
	}
}

func TestClassify_RateLimitedByStatus(t *testing.T) {
	e := testExtractor(t)
	for _, status := range []int{429, 503} {
		err := e.classify(captureWith(status), "Error", "please come back later", anonRequest())
		if types.KindOf(err) != types.KindRateLimited {
			t.Errorf("status %d: kind = %v, want rate_limited", status, types.KindOf(err))
		}
	}
}

func TestClassify_RateLimitedByBody(t *testing.T) {
	e := testExtractor(t)
	err := e.classify(captureWith(200), "Error", "Too many requests from your network.", anonRequest())
	if types.KindOf(err) != types.KindRateLimited {
		t.Fatalf("kind = %v, want rate_limited", types.KindOf(err))
	}
}

func TestClassify_CloudflareForbidden(t *testing.T) {
	e := testExtractor(t)
	err := e.classify(captureWith(403), "Access denied", "Performance & security by Cloudflare", anonRequest())
	if types.KindOf(err) != types.KindRateLimited {
		t.Fatalf("kind = %v, want rate_limited", types.KindOf(err))
	}
}

func TestClassify_PersistentChallengeIsRateLimit(t *testing.T) {
	e := testExtractor(t)
	err := e.classify(captureWith(200), "Just a moment...", "Verifying you are human. This may take a few seconds.", anonRequest())
	if types.KindOf(err) != types.KindRateLimited {
		t.Fatalf("kind = %v, want rate_limited", types.KindOf(err))
	}
}

func TestClassify_ErrorPageAnonymous(t *testing.T) {
	e := testExtractor(t)
	err := e.classify(captureWith(200), "404 - Page Not Found", "The page you are looking for does not exist.", anonRequest())
	if types.KindOf(err) != types.KindNotFound {
		t.Fatalf("kind = %v, want not_found", types.KindOf(err))
	}
	if types.KindOf(err).Retryable() {
		t.Errorf("not_found must not be retryable")
	}
}

func TestClassify_ErrorPageCredentialed(t *testing.T) {
	e := testExtractor(t)
	err := e.classify(captureWith(200), "404 - Page Not Found", "The page you are looking for does not exist.", credRequest())
	if types.KindOf(err) != types.KindItemNotAccessible {
		t.Fatalf("kind = %v, want item_not_accessible", types.KindOf(err))
	}
}

func TestClassify_Status404CleanBody(t *testing.T) {
	e := testExtractor(t)
	err := e.classify(captureWith(404), "Collection", "nothing obviously wrong in the text", anonRequest())
	if types.KindOf(err) != types.KindNotFound {
		t.Fatalf("kind = %v, want not_found", types.KindOf(err))
	}
}

func TestClassify_RestrictedAnonymous(t *testing.T) {
	e := testExtractor(t)
	err := e.classify(captureWith(200), "Item", "You must be signed in to view adult content.", anonRequest())
	if types.KindOf(err) != types.KindAuthRequired {
		t.Fatalf("kind = %v, want auth_required", types.KindOf(err))
	}
	if !strings.Contains(err.Error(), types.NSFWSentinel) {
		t.Errorf("auth_required error should carry the NSFW sentinel: %v", err)
	}
}

func TestClassify_RestrictedCredentialed(t *testing.T) {
	e := testExtractor(t)
	err := e.classify(captureWith(200), "Item", "You must be signed in to view adult content.", credRequest())
	if types.KindOf(err) != types.KindItemNotAccessible {
		t.Fatalf("kind = %v, want item_not_accessible", types.KindOf(err))
	}
}

func TestRequestCredentialed(t *testing.T) {
	if anonRequest().credentialed() {
		t.Error("request without cookies reported credentialed")
	}
	if !credRequest().credentialed() {
		t.Error("request with cookies reported anonymous")
	}
}
