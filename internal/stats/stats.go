// Package stats tracks rolling scrape statistics for the single target
// site: outcome counters, a bounded latency window, and rate-limit
// incidence. The queue records outcomes; the stats endpoint and the
// terminal monitor read snapshots.
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mokutsu/mfcscraper-go/internal/types"
)

// latencyWindowSize bounds the rolling latency sample. 256 scrapes at the
// default pacing covers roughly the last ten minutes of traffic.
const latencyWindowSize = 256

// maxCounterValue triggers overflow protection well before int64 wraps.
const maxCounterValue int64 = 1 << 62

// Tracker accumulates scrape outcomes. Safe for concurrent use.
type Tracker struct {
	mu sync.RWMutex

	requestCount   int64
	successCount   int64
	errorCount     int64
	rateLimitCount int64

	// Failures by classified kind, for the stats endpoint.
	errorsByKind map[types.ErrorKind]int64

	// Rolling latency window, newest at head (ring).
	latencies [latencyWindowSize]time.Duration
	latencyN  int // number of valid samples, caps at window size
	latencyAt int // next write position

	lastRequestTime time.Time
	lastSuccessTime time.Time
	lastRateLimited time.Time

	startedAt time.Time
}

// Snapshot is the JSON projection of a Tracker.
type Snapshot struct {
	RequestCount   int64            `json:"requestCount"`
	SuccessCount   int64            `json:"successCount"`
	ErrorCount     int64            `json:"errorCount"`
	RateLimitCount int64            `json:"rateLimitCount"`
	ErrorRate      float64          `json:"errorRate"`
	RateLimitRate  float64          `json:"rateLimitRate"`
	ErrorsByKind   map[string]int64 `json:"errorsByKind,omitempty"`

	AvgLatencyMs int64 `json:"avgLatencyMs"`
	P95LatencyMs int64 `json:"p95LatencyMs"`
	WindowSize   int   `json:"latencyWindow"`

	LastRequestTime time.Time `json:"lastRequestTime,omitempty"`
	LastSuccessTime time.Time `json:"lastSuccessTime,omitempty"`
	LastRateLimited time.Time `json:"lastRateLimited,omitempty"`

	UptimeSeconds int64 `json:"uptimeSeconds"`
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		errorsByKind: make(map[types.ErrorKind]int64),
		startedAt:    time.Now(),
	}
}

// RecordSuccess records one completed scrape and its wall latency.
func (t *Tracker) RecordSuccess(latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfOverflowingLocked()
	t.requestCount++
	t.successCount++
	now := time.Now()
	t.lastRequestTime = now
	t.lastSuccessTime = now
	t.pushLatencyLocked(latency)
}

// RecordFailure records one failed scrape with its classified kind.
func (t *Tracker) RecordFailure(latency time.Duration, kind types.ErrorKind) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfOverflowingLocked()
	t.requestCount++
	t.errorCount++
	t.errorsByKind[kind]++
	now := time.Now()
	t.lastRequestTime = now
	if kind == types.KindRateLimited {
		t.rateLimitCount++
		t.lastRateLimited = now
	}
	t.pushLatencyLocked(latency)
}

// resetIfOverflowingLocked zeroes all counters when the request counter
// approaches the int64 ceiling. Timestamps reset with the counters so the
// snapshot stays self-consistent.
func (t *Tracker) resetIfOverflowingLocked() {
	if t.requestCount < maxCounterValue {
		return
	}
	log.Warn().
		Int64("request_count", t.requestCount).
		Msg("Counter overflow protection triggered, resetting stats")
	t.requestCount = 0
	t.successCount = 0
	t.errorCount = 0
	t.rateLimitCount = 0
	t.errorsByKind = make(map[types.ErrorKind]int64)
	t.latencyN = 0
	t.latencyAt = 0
	t.lastRequestTime = time.Time{}
	t.lastSuccessTime = time.Time{}
	t.lastRateLimited = time.Time{}
}

func (t *Tracker) pushLatencyLocked(latency time.Duration) {
	if latency < 0 {
		latency = 0
	}
	t.latencies[t.latencyAt] = latency
	t.latencyAt = (t.latencyAt + 1) % latencyWindowSize
	if t.latencyN < latencyWindowSize {
		t.latencyN++
	}
}

// Snapshot returns a consistent copy of the current statistics.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{
		RequestCount:    t.requestCount,
		SuccessCount:    t.successCount,
		ErrorCount:      t.errorCount,
		RateLimitCount:  t.rateLimitCount,
		WindowSize:      t.latencyN,
		LastRequestTime: t.lastRequestTime,
		LastSuccessTime: t.lastSuccessTime,
		LastRateLimited: t.lastRateLimited,
		UptimeSeconds:   int64(time.Since(t.startedAt).Seconds()),
	}

	if t.requestCount > 0 {
		snap.ErrorRate = float64(t.errorCount) / float64(t.requestCount)
		snap.RateLimitRate = float64(t.rateLimitCount) / float64(t.requestCount)
	}

	if len(t.errorsByKind) > 0 {
		snap.ErrorsByKind = make(map[string]int64, len(t.errorsByKind))
		for kind, n := range t.errorsByKind {
			snap.ErrorsByKind[string(kind)] = n
		}
	}

	if t.latencyN > 0 {
		window := make([]time.Duration, t.latencyN)
		copy(window, t.latencies[:t.latencyN])

		var total time.Duration
		for _, d := range window {
			total += d
		}
		snap.AvgLatencyMs = (total / time.Duration(t.latencyN)).Milliseconds()

		sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
		idx := (t.latencyN * 95) / 100
		if idx >= t.latencyN {
			idx = t.latencyN - 1
		}
		snap.P95LatencyMs = window[idx].Milliseconds()
	}

	return snap
}

// ErrorRate returns the lifetime error rate in [0, 1].
func (t *Tracker) ErrorRate() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.requestCount == 0 {
		return 0
	}
	return float64(t.errorCount) / float64(t.requestCount)
}

// RequestCount returns the lifetime request count.
func (t *Tracker) RequestCount() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.requestCount
}

// Reset zeroes every counter and the latency window. Used by the
// admin-gated queue reset.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requestCount = 0
	t.successCount = 0
	t.errorCount = 0
	t.rateLimitCount = 0
	t.errorsByKind = make(map[types.ErrorKind]int64)
	t.latencyN = 0
	t.latencyAt = 0
	t.lastRequestTime = time.Time{}
	t.lastSuccessTime = time.Time{}
	t.lastRateLimited = time.Time{}
}
