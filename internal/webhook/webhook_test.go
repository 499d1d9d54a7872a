package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mokutsu/mfcscraper-go/internal/config"
	"github.com/mokutsu/mfcscraper-go/internal/types"
)

// recorder collects webhook requests for assertions.
type recorder struct {
	mu       sync.Mutex
	bodies   [][]byte
	headers  []http.Header
	statuses []int // per-request response status, last one repeats
}

func (r *recorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.bodies = append(r.bodies, body)
		r.headers = append(r.headers, req.Header.Clone())
		status := http.StatusOK
		if len(r.statuses) > 0 {
			status = r.statuses[0]
			if len(r.statuses) > 1 {
				r.statuses = r.statuses[1:]
			}
		}
		r.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bodies)
}

func testNotifier(t *testing.T, url, secret string) *Notifier {
	t.Helper()
	cfg := &config.Config{
		WebhookURL:     url,
		WebhookSecret:  secret,
		WebhookTimeout: 2 * time.Second,
	}
	n := New(cfg)
	// Keep tests fast; the production delays are seconds long.
	n.retryDelays = []time.Duration{0, 5 * time.Millisecond, 10 * time.Millisecond}
	return n
}

// waitForRequests blocks until the recorder has seen want requests. Close
// interrupts pending retry sleeps, so retry tests must let delivery settle
// before closing the notifier.
func waitForRequests(t *testing.T, rec *recorder, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for rec.count() < want {
		if time.Now().After(deadline) {
			t.Fatalf("requests = %d, want %d within 2s", rec.count(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNotify_NoURLConfigured(t *testing.T) {
	n := testNotifier(t, "", "")
	n.NotifyCompleted(&types.Record{Fingerprint: "287"})
	n.NotifyFailed("287", types.KindTimeout, "boom")
	n.NotifySkipped("287", "cancelled")
	n.Close()

	delivered, failed := n.Stats()
	if delivered != 0 || failed != 0 {
		t.Errorf("stats = %d/%d, want 0/0", delivered, failed)
	}
}

func TestNotifyCompleted_DeliversRecord(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	n := testNotifier(t, srv.URL, "")
	n.NotifyCompleted(&types.Record{Fingerprint: "287", Name: "Hatsune Miku"})
	n.Close()

	if rec.count() != 1 {
		t.Fatalf("requests = %d, want 1", rec.count())
	}

	var evt Event
	if err := json.Unmarshal(rec.bodies[0], &evt); err != nil {
		t.Fatalf("body did not parse: %v", err)
	}
	if evt.Event != types.EventItemCompleted {
		t.Errorf("event = %q", evt.Event)
	}
	if evt.Fingerprint != "287" {
		t.Errorf("fingerprint = %q", evt.Fingerprint)
	}
	if evt.Record == nil || evt.Record.Name != "Hatsune Miku" {
		t.Errorf("record = %+v", evt.Record)
	}
	if evt.Timestamp == 0 {
		t.Error("timestamp not set")
	}

	hdr := rec.headers[0]
	if ct := hdr.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if sig := hdr.Get(signatureHeader); sig != "" {
		t.Errorf("signature present without a secret: %q", sig)
	}

	delivered, failed := n.Stats()
	if delivered != 1 || failed != 0 {
		t.Errorf("stats = %d/%d, want 1/0", delivered, failed)
	}
}

func TestNotify_SignsBodyWithSecret(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	n := testNotifier(t, srv.URL, "topsecret")
	n.NotifyFailed("287", types.KindRateLimited, "rate limit page served")
	n.Close()

	if rec.count() != 1 {
		t.Fatalf("requests = %d, want 1", rec.count())
	}

	sig := rec.headers[0].Get(signatureHeader)
	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(rec.bodies[0])
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if sig != want {
		t.Errorf("signature = %q, want %q", sig, want)
	}

	var evt Event
	if err := json.Unmarshal(rec.bodies[0], &evt); err != nil {
		t.Fatalf("body did not parse: %v", err)
	}
	if evt.ErrorKind != string(types.KindRateLimited) || evt.Error == "" {
		t.Errorf("failure fields = %q %q", evt.ErrorKind, evt.Error)
	}
}

func TestNotify_RetriesUntilSuccess(t *testing.T) {
	rec := &recorder{statuses: []int{500, 500, 200}}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	n := testNotifier(t, srv.URL, "")
	n.NotifySkipped("287", "cancelled")
	waitForRequests(t, rec, 3)
	n.Close()

	if rec.count() != 3 {
		t.Fatalf("requests = %d, want 3", rec.count())
	}
	delivered, failed := n.Stats()
	if delivered != 1 || failed != 0 {
		t.Errorf("stats = %d/%d, want 1/0", delivered, failed)
	}
}

func TestNotify_GivesUpAfterAllRetries(t *testing.T) {
	rec := &recorder{statuses: []int{500}}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	n := testNotifier(t, srv.URL, "")
	n.NotifyFailed("287", types.KindNetwork, "connection refused")
	waitForRequests(t, rec, len(n.retryDelays))
	n.Close()

	if rec.count() != len(n.retryDelays) {
		t.Fatalf("requests = %d, want %d", rec.count(), len(n.retryDelays))
	}
	delivered, failed := n.Stats()
	if delivered != 0 || failed != 1 {
		t.Errorf("stats = %d/%d, want 0/1", delivered, failed)
	}
}

func TestNotify_AfterCloseIsDropped(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	n := testNotifier(t, srv.URL, "")
	n.Close()
	n.NotifyCompleted(&types.Record{Fingerprint: "287"})
	// Give a stray goroutine a moment to misbehave if one was spawned.
	time.Sleep(20 * time.Millisecond)

	if rec.count() != 0 {
		t.Errorf("requests = %d, want 0 after Close", rec.count())
	}
}

func TestClose_Idempotent(t *testing.T) {
	n := testNotifier(t, "", "")
	n.Close()
	n.Close()
}

func TestNotifySkipped_Payload(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	n := testNotifier(t, srv.URL, "")
	n.NotifySkipped("42", "session cancelled")
	n.Close()

	if rec.count() != 1 {
		t.Fatalf("requests = %d, want 1", rec.count())
	}
	var evt Event
	if err := json.Unmarshal(rec.bodies[0], &evt); err != nil {
		t.Fatalf("body did not parse: %v", err)
	}
	if evt.Event != types.EventItemSkipped || evt.Reason != "session cancelled" {
		t.Errorf("event = %+v", evt)
	}
	if evt.Record != nil {
		t.Errorf("skip events must not carry a record")
	}
}
