package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// maxClients caps the tracked-client map so an address-rotating caller
// cannot grow it without bound. At roughly 100 bytes per entry the cap
// costs about 1MB.
const maxClients = 10000

// staleAfter is how long an idle client keeps its bucket before a cleanup
// pass drops it.
const staleAfter = 10 * time.Minute

// clientBucket pairs a token bucket with the last time its owner was seen.
// lastSeen is touched on every request, so it is atomic rather than guarded
// by the map lock.
type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// RateLimit throttles inbound requests with a token bucket per client IP.
// The limit is configured in requests per minute; the bucket refills
// continuously at that rate and absorbs bursts up to the burst size.
//
// Create one instance at server startup and reuse its Handler for every
// route; separate instances keep separate counters. Call Close on shutdown
// to stop the cleanup goroutine.
type RateLimit struct {
	mu      sync.RWMutex
	clients map[string]*clientBucket

	limit      rate.Limit
	burst      int
	trustProxy bool
	retryAfter string

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRateLimit creates a per-client limiter.
// requestsPerMinute: sustained rate each client is allowed.
// burst: extra requests a quiet client may send at once.
// trustProxy: whether X-Forwarded-For and X-Real-IP identify the client.
func NewRateLimit(requestsPerMinute, burst int, trustProxy bool) *RateLimit {
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	if burst < 1 {
		burst = 1
	}

	// Advertise roughly how long until the bucket has a token again.
	retrySeconds := int(math.Ceil(60.0 / float64(requestsPerMinute)))
	if retrySeconds < 1 {
		retrySeconds = 1
	}

	rl := &RateLimit{
		clients:    make(map[string]*clientBucket),
		limit:      rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:      burst,
		trustProxy: trustProxy,
		retryAfter: strconv.Itoa(retrySeconds),
		stopCh:     make(chan struct{}),
	}

	rl.wg.Add(1)
	go func() {
		defer rl.wg.Done()
		rl.cleanupLoop()
	}()

	return rl
}

// Allow reports whether a request from the given client IP may proceed.
func (rl *RateLimit) Allow(ip string) bool {
	now := time.Now().UnixNano()

	rl.mu.RLock()
	bucket, ok := rl.clients[ip]
	rl.mu.RUnlock()

	if ok {
		bucket.lastSeen.Store(now)
		return bucket.limiter.Allow()
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring the write lock; another request may
	// have created the bucket in between.
	if bucket, ok = rl.clients[ip]; ok {
		bucket.lastSeen.Store(now)
		return bucket.limiter.Allow()
	}

	if len(rl.clients) >= maxClients {
		rl.evictOldest()
	}

	bucket = &clientBucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
	bucket.lastSeen.Store(now)
	rl.clients[ip] = bucket

	return bucket.limiter.Allow()
}

// Handler returns the middleware wrapper enforcing the limit.
func (rl *RateLimit) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := getClientIP(r, rl.trustProxy)

			if !rl.Allow(ip) {
				log.Debug().
					Str("remote_addr", maskIP(ip)).
					Msg("Inbound request throttled")
				w.Header().Set("Retry-After", rl.retryAfter)
				writeErrorResponse(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Close stops the cleanup goroutine and waits for it to exit. Idempotent.
func (rl *RateLimit) Close() {
	rl.closeOnce.Do(func() {
		close(rl.stopCh)
		rl.wg.Wait()
	})
}

func (rl *RateLimit) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.dropStale()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimit) dropStale() {
	cutoff := time.Now().Add(-staleAfter).UnixNano()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for ip, bucket := range rl.clients {
		if bucket.lastSeen.Load() < cutoff {
			delete(rl.clients, ip)
		}
	}
}

// evictOldest removes the least recently seen client to make room.
// Caller must hold rl.mu.
func (rl *RateLimit) evictOldest() {
	var oldestIP string
	oldest := int64(math.MaxInt64)

	for ip, bucket := range rl.clients {
		if seen := bucket.lastSeen.Load(); seen < oldest {
			oldestIP = ip
			oldest = seen
		}
	}

	if oldestIP != "" {
		delete(rl.clients, oldestIP)
	}
}

// normalizeIP canonicalizes an IP string so IPv6 spelling variations and
// IPv4-mapped forms cannot dodge the per-client bucket.
func normalizeIP(ipStr string) string {
	ipStr = strings.TrimSpace(ipStr)
	if ipStr == "" {
		return ""
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return ipStr
	}

	if ip4 := ip.To4(); ip4 != nil {
		return ip4.String()
	}
	return ip.String()
}

// getClientIP extracts the client IP from the request. With trustProxy off
// only RemoteAddr counts, since forwarded headers are caller-controlled.
// With it on, X-Forwarded-For (leftmost entry) then X-Real-IP are consulted
// first; enable it only behind a proxy that overwrites those headers.
func getClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			ipStr := xff
			if idx := strings.Index(xff, ","); idx > 0 {
				ipStr = xff[:idx]
			}
			if normalized := normalizeIP(ipStr); normalized != "" {
				return normalized
			}
		}

		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if normalized := normalizeIP(xri); normalized != "" {
				return normalized
			}
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return normalizeIP(ip)
}
