package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mokutsu/mfcscraper-go/internal/config"
)

func TestRecoveryMiddleware(t *testing.T) {
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := Recovery(panicHandler)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
	if w.Header().Get("Content-Type") != "application/json" {
		t.Error("Expected Content-Type application/json")
	}
}

func TestRecoveryMiddlewareNoPanic(t *testing.T) {
	normalHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	handler := Recovery(normalHandler)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestLoggingMiddleware(t *testing.T) {
	called := false
	innerHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	handler := Logging(innerHandler)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !called {
		t.Error("Inner handler was not called")
	}
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestLoggingMiddlewareCapturesStatusCode(t *testing.T) {
	innerHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	handler := Logging(innerHandler)

	req := httptest.NewRequest("GET", "/notfound", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestResponseWriterWrapper(t *testing.T) {
	w := httptest.NewRecorder()
	wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

	if wrapped.statusCode != http.StatusOK {
		t.Errorf("Expected default status 200, got %d", wrapped.statusCode)
	}

	wrapped.WriteHeader(http.StatusNotFound)
	if wrapped.statusCode != http.StatusNotFound {
		t.Errorf("Expected status 404 after WriteHeader, got %d", wrapped.statusCode)
	}
}

func TestSanitizeURLForLogging(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"no query", "/scrape/287", "/scrape/287"},
		{"benign query", "/sync/queue/stats?pretty=1", "/sync/queue/stats?pretty=1"},
		{"token redacted", "/x?token=abc123", "/x?token=%5BREDACTED%5D"},
		{"case insensitive", "/x?API_KEY=abc", "/x?API_KEY=%5BREDACTED%5D"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeURLForLogging(tt.in); got != tt.want {
				t.Errorf("sanitizeURLForLogging(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMaskIP(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"ipv4 with port", "203.0.113.77:9999", "203.0.113.0/24"},
		{"ipv4 bare", "10.1.2.3", "10.1.2.0/24"},
		{"ipv6", "[2001:db8:abcd:1234::1]:443", "2001:db8:abcd::/48"},
		{"garbage", "not-an-ip", "[redacted]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maskIP(tt.in); got != tt.want {
				t.Errorf("maskIP(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCORSMiddlewareAllowedOrigin(t *testing.T) {
	innerHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := CORS(CORSConfig{
		AllowedOrigins: []string{"https://example.com"},
	})(innerHandler)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q, want the specific origin", got)
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("Allowlisted origin should be granted credentials")
	}
	if w.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("Missing Access-Control-Allow-Methods header")
	}
	if w.Header().Get("Access-Control-Allow-Headers") == "" {
		t.Error("Missing Access-Control-Allow-Headers header")
	}
}

func TestCORSMiddlewareRejectsUnlistedOrigin(t *testing.T) {
	innerHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := CORS(CORSConfig{
		AllowedOrigins: []string{"https://example.com"},
	})(innerHandler)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Origin", "https://attacker.com")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no Access-Control-Allow-Origin header, got %q", got)
	}
}

func TestCORSMiddlewareWildcardWithoutConfig(t *testing.T) {
	innerHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := CORS(CORSConfig{})(innerHandler)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Origin", "https://myfigurecollection.net")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want wildcard", got)
	}
	// Wildcard plus credentials is rejected by browsers; never emit both.
	if w.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Error("Wildcard response must not grant credentials")
	}
}

func TestCORSMiddlewareOptionsPreflight(t *testing.T) {
	called := false
	innerHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	handler := CORS(CORSConfig{})(innerHandler)

	req := httptest.NewRequest("OPTIONS", "/test", nil)
	req.Header.Set("Origin", "https://myfigurecollection.net")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if called {
		t.Error("Inner handler should not be called for OPTIONS")
	}
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for OPTIONS, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Max-Age") == "" {
		t.Error("Preflight response missing Access-Control-Max-Age")
	}
}

func TestSecurityHeaders(t *testing.T) {
	innerHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := SecurityHeaders(innerHandler)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("Missing X-Content-Type-Options header")
	}
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("Missing X-Frame-Options header")
	}
	if w.Header().Get("Cache-Control") == "" {
		t.Error("Missing Cache-Control header")
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	quickHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	handler := Timeout(5 * time.Second)(quickHandler)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestTimeoutMiddlewareTimesOut(t *testing.T) {
	slowHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(5 * time.Second):
			w.WriteHeader(http.StatusOK)
		}
	})

	handler := Timeout(50 * time.Millisecond)(slowHandler)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("Expected status 504 (Gateway Timeout), got %d", w.Code)
	}
}

func TestTimeoutWriterDiscardsAfterTimeout(t *testing.T) {
	w := httptest.NewRecorder()
	tw := &timeoutWriter{ResponseWriter: w}

	n, err := tw.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Errorf("Write before timeout failed: n=%d, err=%v", n, err)
	}

	tw.markTimedOut()

	// Late writes report success but go nowhere.
	n, err = tw.Write([]byte("world"))
	if err != nil || n != 5 {
		t.Errorf("Write after timeout should return success: n=%d, err=%v", n, err)
	}

	if body := w.Body.String(); body != "hello" {
		t.Errorf("Expected body 'hello', got %q", body)
	}
}

func TestChainMiddleware(t *testing.T) {
	order := []string{}

	middleware1 := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "m1-before")
			next.ServeHTTP(w, r)
			order = append(order, "m1-after")
		})
	}

	middleware2 := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "m2-before")
			next.ServeHTTP(w, r)
			order = append(order, "m2-after")
		})
	}

	innerHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	})

	chain := Chain(middleware1, middleware2)
	handler := chain(innerHandler)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	expected := []string{"m1-before", "m2-before", "handler", "m2-after", "m1-after"}
	if len(order) != len(expected) {
		t.Fatalf("Expected %d calls, got %d", len(expected), len(order))
	}
	for i, exp := range expected {
		if order[i] != exp {
			t.Errorf("At position %d: expected %q, got %q", i, exp, order[i])
		}
	}
}

// ==================== RateLimit Tests ====================

func TestRateLimitAllowsBurstThenBlocks(t *testing.T) {
	rl := NewRateLimit(60, 5, false)
	defer rl.Close()

	for i := 0; i < 5; i++ {
		if !rl.Allow("127.0.0.1") {
			t.Errorf("Request %d within burst should have been allowed", i+1)
		}
	}

	if rl.Allow("127.0.0.1") {
		t.Error("Request beyond burst should have been blocked")
	}
}

func TestRateLimitRefills(t *testing.T) {
	// 6000 RPM = one token every 10ms.
	rl := NewRateLimit(6000, 2, false)
	defer rl.Close()

	rl.Allow("127.0.0.1")
	rl.Allow("127.0.0.1")
	if rl.Allow("127.0.0.1") {
		t.Error("Should be blocked after exhausting burst")
	}

	time.Sleep(60 * time.Millisecond)

	if !rl.Allow("127.0.0.1") {
		t.Error("Should be allowed again after the bucket refills")
	}
}

func TestRateLimitSeparatesClients(t *testing.T) {
	rl := NewRateLimit(60, 2, false)
	defer rl.Close()

	rl.Allow("192.168.1.1")
	rl.Allow("192.168.1.1")
	if rl.Allow("192.168.1.1") {
		t.Error("IP1 should be blocked")
	}

	if !rl.Allow("192.168.1.2") {
		t.Error("IP2 should be allowed (separate bucket)")
	}
}

func TestRateLimitHandlerReturns429(t *testing.T) {
	rl := NewRateLimit(60, 1, false)
	defer rl.Close()

	innerHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := rl.Handler()(innerHandler)

	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "203.0.113.9:1000"

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("First request: status %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Second request: status %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After header")
	}
}

func TestRateLimitCloseIdempotent(t *testing.T) {
	rl := NewRateLimit(60, 5, false)
	rl.Close()
	rl.Close() // must not panic
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		trustProxy bool
		want       string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "203.0.113.7:4567",
			want:       "203.0.113.7",
		},
		{
			name:       "spoofed XFF ignored without trust",
			remoteAddr: "203.0.113.7:4567",
			xff:        "10.0.0.1",
			want:       "203.0.113.7",
		},
		{
			name:       "XFF honored with trust",
			remoteAddr: "127.0.0.1:80",
			xff:        "198.51.100.23",
			trustProxy: true,
			want:       "198.51.100.23",
		},
		{
			name:       "XFF takes leftmost entry",
			remoteAddr: "127.0.0.1:80",
			xff:        "198.51.100.23, 10.0.0.1",
			trustProxy: true,
			want:       "198.51.100.23",
		},
		{
			name:       "X-Real-IP fallback with trust",
			remoteAddr: "127.0.0.1:80",
			xri:        "198.51.100.42",
			trustProxy: true,
			want:       "198.51.100.42",
		},
		{
			name:       "ipv4-mapped ipv6 normalized",
			remoteAddr: "127.0.0.1:80",
			xff:        "::ffff:198.51.100.23",
			trustProxy: true,
			want:       "198.51.100.23",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}

			if got := getClientIP(req, tt.trustProxy); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ==================== AdminToken Tests ====================

func TestAdminTokenNoTokenConfigured(t *testing.T) {
	cfg := &config.Config{AdminToken: ""}

	called := false
	innerHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	handler := AdminToken(cfg)(innerHandler)

	req := httptest.NewRequest("POST", "/reset-pool", nil)
	req.Header.Set("X-Admin-Token", "anything")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if called {
		t.Error("Admin endpoint must not run without a configured token")
	}
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}

func TestAdminTokenValid(t *testing.T) {
	cfg := &config.Config{AdminToken: "correct-admin-token-0123"}

	called := false
	innerHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	handler := AdminToken(cfg)(innerHandler)

	req := httptest.NewRequest("POST", "/reset-pool", nil)
	req.Header.Set("X-Admin-Token", "correct-admin-token-0123")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !called {
		t.Error("Inner handler should be called with a valid token")
	}
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestAdminTokenInvalid(t *testing.T) {
	cfg := &config.Config{AdminToken: "correct-admin-token-0123"}

	called := false
	innerHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	handler := AdminToken(cfg)(innerHandler)

	for _, token := range []string{"", "wrong", "correct-admin-token-012", "correct-admin-token-0123x"} {
		req := httptest.NewRequest("POST", "/reset-pool", nil)
		if token != "" {
			req.Header.Set("X-Admin-Token", token)
		}
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if called {
			t.Fatalf("Inner handler ran with token %q", token)
		}
		if w.Code != http.StatusUnauthorized {
			t.Errorf("Token %q: expected status 401, got %d", token, w.Code)
		}
	}
}

func TestAdminTokenQueryParamRejected(t *testing.T) {
	cfg := &config.Config{AdminToken: "correct-admin-token-0123"}

	called := false
	innerHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	handler := AdminToken(cfg)(innerHandler)

	// Tokens in query strings end up in logs; only the header counts.
	req := httptest.NewRequest("POST", "/reset-pool?token=correct-admin-token-0123", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if called {
		t.Error("Query-parameter token must not authenticate")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

func TestAdminTokenHealthAndMetricsExempt(t *testing.T) {
	cfg := &config.Config{AdminToken: "correct-admin-token-0123"}

	for _, path := range []string{"/health", "/metrics"} {
		called := false
		innerHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			w.WriteHeader(http.StatusOK)
		})

		handler := AdminToken(cfg)(innerHandler)

		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if !called {
			t.Errorf("%s should bypass the admin token check", path)
		}
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", path, w.Code)
		}
	}
}
