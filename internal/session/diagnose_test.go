package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mokutsu/mfcscraper-go/internal/types"
)

func TestDiagnose_CookiesExpired(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.ProbeURL = srv.URL
	m := NewManager(cfg, &okValidator{})
	defer m.Close()

	const id = "sess-diag-exp-00001"
	m.ReportCookieFailure(id, "10001", "user-a", 1)

	diag, err := m.Diagnose(context.Background(), id)
	if err != nil {
		t.Fatalf("Diagnose() error = %v", err)
	}
	if diag.Reason != types.DiagnosisCookiesExpired {
		t.Errorf("Reason = %s, want %s", diag.Reason, types.DiagnosisCookiesExpired)
	}
	if !diag.SiteReachable {
		t.Error("SiteReachable = false with healthy probe")
	}
	if diag.Confidence < 0.5 {
		t.Errorf("Confidence = %v, want >= 0.5", diag.Confidence)
	}
	if diag.LastProbeTime == 0 {
		t.Error("LastProbeTime not stamped")
	}
	if hits.Load() != 1 {
		t.Errorf("Probe hit server %d times, want 1", hits.Load())
	}
}

func TestDiagnose_SiteOverloaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.ProbeURL = srv.URL
	m := NewManager(cfg, &okValidator{})
	defer m.Close()

	diag, err := m.Diagnose(context.Background(), "sess-diag-ovl-00001")
	if err != nil {
		t.Fatalf("Diagnose() error = %v", err)
	}
	if diag.Reason != types.DiagnosisSiteOverloaded {
		t.Errorf("Reason = %s, want %s", diag.Reason, types.DiagnosisSiteOverloaded)
	}
	if diag.SiteReachable {
		t.Error("SiteReachable = true with 503 probe")
	}
}

func TestDiagnose_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	probeURL := srv.URL
	srv.Close() // connection refused from here on

	cfg := testConfig()
	cfg.ProbeURL = probeURL
	cfg.ProbeTimeout = 500 * time.Millisecond
	m := NewManager(cfg, &okValidator{})
	defer m.Close()

	diag, err := m.Diagnose(context.Background(), "sess-diag-net-00001")
	if err != nil {
		t.Fatalf("Diagnose() error = %v", err)
	}
	if diag.Reason != types.DiagnosisNetworkError {
		t.Errorf("Reason = %s, want %s", diag.Reason, types.DiagnosisNetworkError)
	}
	if diag.SiteReachable {
		t.Error("SiteReachable = true with dead endpoint")
	}
	if diag.LastProbeSuccess {
		t.Error("LastProbeSuccess = true with dead endpoint")
	}
}

func TestDiagnose_Unknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.ProbeURL = srv.URL
	m := NewManager(cfg, &okValidator{})
	defer m.Close()

	// Healthy probe, no recorded failures for this session.
	diag, err := m.Diagnose(context.Background(), "sess-diag-unk-00001")
	if err != nil {
		t.Fatalf("Diagnose() error = %v", err)
	}
	if diag.Reason != types.DiagnosisUnknown {
		t.Errorf("Reason = %s, want %s", diag.Reason, types.DiagnosisUnknown)
	}
	if !diag.SiteReachable {
		t.Error("SiteReachable = false with healthy probe")
	}
}

func TestDiagnose_ProbeCached(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.ProbeURL = srv.URL
	cfg.ProbeCacheTTL = time.Minute
	m := NewManager(cfg, &okValidator{})
	defer m.Close()

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := m.Diagnose(ctx, "sess-diag-cache-001"); err != nil {
			t.Fatalf("Diagnose() #%d error = %v", i, err)
		}
	}

	if got := hits.Load(); got != 1 {
		t.Errorf("Probe hit server %d times, want 1 (cached)", got)
	}
}

func TestDiagnose_ProbeCacheExpires(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.ProbeURL = srv.URL
	cfg.ProbeCacheTTL = 10 * time.Millisecond
	m := NewManager(cfg, &okValidator{})
	defer m.Close()

	ctx := context.Background()
	if _, err := m.Diagnose(ctx, "sess-diag-ttl-00001"); err != nil {
		t.Fatalf("Diagnose() error = %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, err := m.Diagnose(ctx, "sess-diag-ttl-00001"); err != nil {
		t.Fatalf("Diagnose() error = %v", err)
	}

	if got := hits.Load(); got != 2 {
		t.Errorf("Probe hit server %d times, want 2 after TTL expiry", got)
	}
}
