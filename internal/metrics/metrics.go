// Package metrics exposes Prometheus instrumentation for the scraper:
// queue flow, scrape outcomes, pacing, sessions, the browser pool and the
// inbound HTTP surface.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts inbound API requests by route and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mfcscraper_http_requests_total",
			Help: "Total inbound HTTP requests",
		},
		[]string{"route", "status"},
	)

	// HTTPRequestDuration tracks inbound request latency by route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mfcscraper_http_request_duration_seconds",
			Help:    "Inbound HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"route"},
	)

	// ItemsEnqueued counts accepted scrape requests by lane.
	ItemsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mfcscraper_items_enqueued_total",
			Help: "Total items accepted into the queue by lane",
		},
		[]string{"lane"},
	)

	// ItemsCoalesced counts duplicate requests folded onto a pending item.
	ItemsCoalesced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mfcscraper_items_coalesced_total",
			Help: "Total duplicate requests coalesced onto pending items",
		},
	)

	// ScrapesTotal counts finished scrape attempts by outcome: "success" or
	// the failure kind (timeout, rate_limited, not_found, ...).
	ScrapesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mfcscraper_scrapes_total",
			Help: "Total scrape attempts by outcome",
		},
		[]string{"outcome"},
	)

	// ScrapeDuration tracks scrape latency by outcome.
	ScrapeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mfcscraper_scrape_duration_seconds",
			Help:    "Scrape duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~256s
		},
		[]string{"outcome"},
	)

	// QueueDepth shows queued items per lane.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mfcscraper_queue_depth",
			Help: "Items currently queued per lane",
		},
		[]string{"lane"},
	)

	// PacingDelay shows the current adaptive gap between outbound scrapes.
	PacingDelay = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mfcscraper_pacing_delay_seconds",
			Help: "Current adaptive delay between outbound scrapes",
		},
	)

	// RateLimited is 1 while the pacer is backing off from a rate limit.
	RateLimited = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mfcscraper_rate_limited",
			Help: "1 while the pacer is in rate-limit backoff, else 0",
		},
	)

	// SessionsCached shows tracked sessions.
	SessionsCached = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mfcscraper_sessions_cached",
			Help: "Sessions currently tracked by the session manager",
		},
	)

	// SessionsPaused shows sessions awaiting operator action.
	SessionsPaused = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mfcscraper_sessions_paused",
			Help: "Sessions paused pending operator action",
		},
	)

	// BrowserPoolSize shows the configured pool size.
	BrowserPoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mfcscraper_browser_pool_size",
			Help: "Configured browser pool size",
		},
	)

	// BrowserPoolAvailable shows idle browsers in the pool.
	BrowserPoolAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mfcscraper_browser_pool_available",
			Help: "Browsers currently idle in the pool",
		},
	)

	// ChallengesDetected counts challenge interstitials by how they ended.
	ChallengesDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mfcscraper_challenges_detected_total",
			Help: "Challenge pages detected, by whether they cleared in time",
		},
		[]string{"outcome"},
	)

	// WebhookDeliveries counts webhook posts by terminal result.
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mfcscraper_webhook_deliveries_total",
			Help: "Webhook deliveries by terminal result",
		},
		[]string{"result"},
	)

	// MemoryUsageBytes shows current heap allocation.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mfcscraper_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// MemorySysBytes shows memory obtained from the OS.
	MemorySysBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mfcscraper_memory_sys_bytes",
			Help: "Total memory obtained from system",
		},
	)

	// GoroutineCount shows the current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mfcscraper_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo carries build metadata as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mfcscraper_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ItemsEnqueued,
		ItemsCoalesced,
		ScrapesTotal,
		ScrapeDuration,
		QueueDepth,
		PacingDelay,
		RateLimited,
		SessionsCached,
		SessionsPaused,
		BrowserPoolSize,
		BrowserPoolAvailable,
		ChallengesDetected,
		WebhookDeliveries,
		MemoryUsageBytes,
		MemorySysBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// RecordHTTPRequest records one finished inbound request.
func RecordHTTPRequest(route, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordEnqueue records an accepted scrape request.
func RecordEnqueue(lane string) {
	ItemsEnqueued.WithLabelValues(lane).Inc()
}

// RecordCoalesced records a duplicate request folded onto a pending item.
func RecordCoalesced() {
	ItemsCoalesced.Inc()
}

// RecordScrape records one finished scrape attempt. Outcome is "success"
// or the failure kind.
func RecordScrape(outcome string, duration time.Duration) {
	ScrapesTotal.WithLabelValues(outcome).Inc()
	ScrapeDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordChallenge records a detected challenge interstitial.
func RecordChallenge(cleared bool) {
	outcome := "cleared"
	if !cleared {
		outcome = "persisted"
	}
	ChallengesDetected.WithLabelValues(outcome).Inc()
}

// RecordWebhookDelivery records a webhook post's terminal result.
func RecordWebhookDelivery(delivered bool) {
	result := "delivered"
	if !delivered {
		result = "failed"
	}
	WebhookDeliveries.WithLabelValues(result).Inc()
}

// UpdateQueueGauges publishes a queue snapshot.
func UpdateQueueGauges(hot, warm, cold int, pacing time.Duration, limited bool) {
	QueueDepth.WithLabelValues("hot").Set(float64(hot))
	QueueDepth.WithLabelValues("warm").Set(float64(warm))
	QueueDepth.WithLabelValues("cold").Set(float64(cold))
	PacingDelay.Set(pacing.Seconds())
	if limited {
		RateLimited.Set(1)
	} else {
		RateLimited.Set(0)
	}
}

// UpdateSessionGauges publishes a session manager snapshot.
func UpdateSessionGauges(cached, paused int) {
	SessionsCached.Set(float64(cached))
	SessionsPaused.Set(float64(paused))
}

// UpdatePoolGauges publishes a browser pool snapshot.
func UpdatePoolGauges(size, available int) {
	BrowserPoolSize.Set(float64(size))
	BrowserPoolAvailable.Set(float64(available))
}

// StartMemoryCollector periodically refreshes the runtime gauges until
// stopCh closes. Run it on its own goroutine.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			updateMemoryMetrics()
		case <-stopCh:
			return
		}
	}
}

func updateMemoryMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsageBytes.Set(float64(m.Alloc))
	MemorySysBytes.Set(float64(m.Sys))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}
