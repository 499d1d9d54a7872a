// Package config provides application configuration management.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mokutsu/mfcscraper-go/internal/security"
)

// Configuration upper bounds to prevent resource exhaustion.
const (
	maxBrowserPoolSize  = 10
	maxSessionCacheSize = 10000
	maxScrapeTimeout    = 10 * time.Minute
	maxSettleTime       = 15 * time.Second
	maxRateLimitRPM     = 10000
	minAdminTokenLength = 16
)

// Config holds all application configuration.
// Configuration is loaded from environment variables at startup.
type Config struct {
	// Server settings
	Host string
	Port int

	// Target site
	TargetDomain string

	// Browser settings
	Headless    bool
	BrowserPath string
	ProxyURL    string

	// Pool settings
	BrowserPoolSize    int
	BrowserPoolTimeout time.Duration

	// Extraction timeouts
	NavigationTimeout    time.Duration
	PostLoadSettle       time.Duration
	ChallengeWaitTimeout time.Duration
	ScrapeTimeout        time.Duration
	DisableMedia         bool

	// Cookie policy
	CookieAllowlist []string
	RequiredCookies []string
	SessionCookie   string

	// Session manager
	SessionCacheTTL    time.Duration
	SessionCacheMax    int
	AuthErrorThreshold int
	PauseThreshold     int
	FailureCooldown    time.Duration
	ProbeURL           string
	ProbeCacheTTL      time.Duration
	ProbeTimeout       time.Duration

	// Adaptive pacing
	RateInitialDelay      time.Duration
	RateMinDelay          time.Duration
	RateMaxDelay          time.Duration
	RateBackoffFactor     float64
	RateRecoverySuccesses int

	// Queue
	QueueMaxRetries    int
	QueueRetryInterval time.Duration

	// Webhooks
	WebhookURL     string
	WebhookSecret  string
	WebhookTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Admin surface
	AdminToken     string
	ProductionMode bool

	// Inbound HTTP rate limit
	RateLimitEnabled bool
	RateLimitRPM     int
	RateLimitBurst   int
	TrustProxy       bool

	// CORS
	CORSAllowedOrigins []string

	// Challenge patterns
	PatternsPath      string
	PatternsHotReload bool

	// Metrics / profiling
	PrometheusEnabled bool
	PrometheusPort    int
	PProfEnabled      bool
	PProfPort         int

	// TestMode enables fast-fail pool acquisition and silent Clear
	// rejections. Set directly by tests, never read from the environment.
	TestMode bool
}

// Load loads configuration from environment variables.
// Returns a Config with values from environment or sensible defaults.
func Load() *Config {
	return &Config{
		// Server - default to localhost for security (prevents accidental
		// exposure). Set HOST=0.0.0.0 explicitly to bind to all interfaces.
		Host: getEnvString("HOST", "127.0.0.1"),
		Port: getEnvInt("PORT", 8180),

		TargetDomain: getEnvString("TARGET_DOMAIN", "myfigurecollection.net"),

		// Browser
		Headless:    getEnvBool("HEADLESS", true),
		BrowserPath: getEnvString("BROWSER_PATH", ""),
		ProxyURL:    getEnvString("PROXY_URL", ""),

		// Pool
		BrowserPoolSize:    getEnvInt("BROWSER_POOL_SIZE", 3),
		BrowserPoolTimeout: getEnvDuration("BROWSER_POOL_TIMEOUT", 30*time.Second),

		// Extraction
		NavigationTimeout:    getEnvDuration("NAVIGATION_TIMEOUT", 30*time.Second),
		PostLoadSettle:       getEnvDuration("POST_LOAD_SETTLE", 2*time.Second),
		ChallengeWaitTimeout: getEnvDuration("CHALLENGE_WAIT_TIMEOUT", 10*time.Second),
		ScrapeTimeout:        getEnvDuration("SCRAPE_TIMEOUT", 90*time.Second),
		DisableMedia:         getEnvBool("DISABLE_MEDIA", true),

		// Cookies
		CookieAllowlist: getEnvStringSlice("COOKIE_ALLOWLIST", []string{"PHPSESSID", "uid", "remember", "lang"}),
		RequiredCookies: getEnvStringSlice("REQUIRED_COOKIES", []string{"PHPSESSID"}),
		SessionCookie:   getEnvString("SESSION_COOKIE", "PHPSESSID"),

		// Sessions
		SessionCacheTTL:    getEnvDuration("SESSION_CACHE_TTL", 10*time.Minute),
		SessionCacheMax:    getEnvInt("SESSION_CACHE_MAX", 100),
		AuthErrorThreshold: getEnvInt("AUTH_ERROR_THRESHOLD", 2),
		PauseThreshold:     getEnvInt("PAUSE_THRESHOLD", 3),
		FailureCooldown:    getEnvDuration("FAILURE_COOLDOWN", 20*time.Second),
		ProbeURL:           getEnvString("PROBE_URL", "https://myfigurecollection.net/item/1"),
		ProbeCacheTTL:      getEnvDuration("PROBE_CACHE_TTL", 60*time.Second),
		ProbeTimeout:       getEnvDuration("PROBE_TIMEOUT", 10*time.Second),

		// Pacing
		RateInitialDelay:      getEnvDuration("RATE_INITIAL_DELAY", 2067*time.Millisecond),
		RateMinDelay:          getEnvDuration("RATE_MIN_DELAY", 274*time.Millisecond),
		RateMaxDelay:          getEnvDuration("RATE_MAX_DELAY", 180*time.Second),
		RateBackoffFactor:     getEnvFloat("RATE_BACKOFF_FACTOR", 1.4),
		RateRecoverySuccesses: getEnvInt("RATE_RECOVERY_SUCCESSES", 3),

		// Queue
		QueueMaxRetries:    getEnvInt("QUEUE_MAX_RETRIES", 3),
		QueueRetryInterval: getEnvDuration("QUEUE_RETRY_INTERVAL", 5*time.Second),

		// Webhooks
		WebhookURL:     getEnvString("WEBHOOK_URL", ""),
		WebhookSecret:  getEnvString("WEBHOOK_SECRET", ""),
		WebhookTimeout: getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second),

		// Logging
		LogLevel:  getEnvString("LOG_LEVEL", "info"),
		LogFormat: getEnvString("LOG_FORMAT", "console"),

		// Admin
		AdminToken:     getEnvString("ADMIN_TOKEN", ""),
		ProductionMode: getEnvBool("PRODUCTION_MODE", false),

		// Inbound rate limit
		RateLimitEnabled: getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPM:     getEnvInt("REQUESTS_PER_MINUTE", 120),
		RateLimitBurst:   getEnvInt("BURST_SIZE", 20),
		TrustProxy:       getEnvBool("TRUST_PROXY_HEADERS", false),

		CORSAllowedOrigins: getEnvStringSlice("CORS_ALLOWED_ORIGINS", nil),

		// Patterns
		PatternsPath:      getEnvString("PATTERNS_FILE", ""),
		PatternsHotReload: getEnvBool("PATTERNS_HOT_RELOAD", false),

		// Metrics / profiling - disabled by default for security
		PrometheusEnabled: getEnvBool("PROMETHEUS_ENABLED", false),
		PrometheusPort:    getEnvInt("PROMETHEUS_PORT", 9180),
		PProfEnabled:      getEnvBool("PPROF_ENABLED", false),
		PProfPort:         getEnvInt("PPROF_PORT", 6060),
	}
}

// ItemURL derives the canonical item page URL for a fingerprint.
func (c *Config) ItemURL(fingerprint string) string {
	return "https://" + c.TargetDomain + "/item/" + fingerprint
}

// Origin returns the target site origin used to establish cookie domain
// context before credential installation.
func (c *Config) Origin() string {
	return "https://" + c.TargetDomain + "/"
}

// HasWebhook reports whether outbound notifications are configured.
func (c *Config) HasWebhook() bool {
	return c.WebhookURL != ""
}

// Validate checks configuration values and logs warnings for invalid values.
// Invalid values are corrected to sensible defaults; only unusable operator
// input (a webhook URL pointing at link-local metadata, say) is zeroed out.
func (c *Config) Validate() {
	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msg("Invalid port, using default 8180")
		c.Port = 8180
	}

	if c.TargetDomain == "" || strings.ContainsAny(c.TargetDomain, "/:@ ") {
		log.Warn().Str("domain", c.TargetDomain).Msg("Invalid target domain, using default")
		c.TargetDomain = "myfigurecollection.net"
	}
	c.TargetDomain = strings.ToLower(strings.TrimSuffix(c.TargetDomain, "."))

	// BrowserPath validation - prevent path traversal
	if c.BrowserPath != "" {
		if strings.Contains(c.BrowserPath, "..") {
			log.Error().
				Str("path", c.BrowserPath).
				Msg("BROWSER_PATH contains path traversal sequence (..), ignoring")
			c.BrowserPath = ""
		} else if !strings.HasPrefix(c.BrowserPath, "/") {
			log.Warn().
				Str("path", c.BrowserPath).
				Msg("BROWSER_PATH should be an absolute path")
		}
	}

	if c.BrowserPoolSize < 1 {
		log.Warn().Int("size", c.BrowserPoolSize).Msg("Invalid pool size, using default 3")
		c.BrowserPoolSize = 3
	} else if c.BrowserPoolSize > maxBrowserPoolSize {
		log.Warn().
			Int("size", c.BrowserPoolSize).
			Int("max", maxBrowserPoolSize).
			Msg("Pool size too large, capping to maximum")
		c.BrowserPoolSize = maxBrowserPoolSize
	}

	const minPoolTimeout = 1 * time.Second
	const maxPoolTimeout = 5 * time.Minute
	if c.BrowserPoolTimeout < minPoolTimeout {
		log.Warn().
			Dur("timeout", c.BrowserPoolTimeout).
			Dur("min", minPoolTimeout).
			Msg("Browser pool timeout too short, using minimum")
		c.BrowserPoolTimeout = minPoolTimeout
	} else if c.BrowserPoolTimeout > maxPoolTimeout {
		log.Warn().
			Dur("timeout", c.BrowserPoolTimeout).
			Dur("max", maxPoolTimeout).
			Msg("Browser pool timeout too long, using maximum")
		c.BrowserPoolTimeout = maxPoolTimeout
	}

	c.validateExtractionTimeouts()
	c.validateCookiePolicy()
	c.validateSessionConfig()
	c.validatePacing()

	if c.QueueMaxRetries < 0 {
		log.Warn().Int("retries", c.QueueMaxRetries).Msg("Invalid retry cap, using 3")
		c.QueueMaxRetries = 3
	} else if c.QueueMaxRetries > 10 {
		log.Warn().Int("retries", c.QueueMaxRetries).Msg("Retry cap too high, capping at 10")
		c.QueueMaxRetries = 10
	}

	if c.QueueRetryInterval < time.Second {
		log.Warn().Dur("interval", c.QueueRetryInterval).Msg("Queue retry interval too short, using 5s")
		c.QueueRetryInterval = 5 * time.Second
	} else if c.QueueRetryInterval > time.Minute {
		log.Warn().Dur("interval", c.QueueRetryInterval).Msg("Queue retry interval too long, using 1m")
		c.QueueRetryInterval = time.Minute
	}

	// Webhook URL must not point inside the network perimeter.
	if c.WebhookURL != "" {
		if err := security.ValidateOutboundURL(c.WebhookURL); err != nil {
			log.Error().
				Err(err).
				Str("url", security.RedactURL(c.WebhookURL)).
				Msg("WEBHOOK_URL rejected, webhooks disabled")
			c.WebhookURL = ""
		}
	}
	if c.WebhookURL == "" && c.WebhookSecret != "" {
		log.Warn().Msg("WEBHOOK_SECRET set but WEBHOOK_URL is empty - secret will not be used")
	}

	if c.ProbeURL != "" {
		if err := security.ValidateOutboundURL(c.ProbeURL); err != nil {
			log.Error().
				Err(err).
				Str("url", security.RedactURL(c.ProbeURL)).
				Msg("PROBE_URL rejected, using default")
			c.ProbeURL = "https://myfigurecollection.net/item/1"
		}
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid log level, using 'info'")
		c.LogLevel = "info"
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		log.Warn().Str("format", c.LogFormat).Msg("Invalid log format, using 'console'")
		c.LogFormat = "console"
	}

	if c.RateLimitEnabled {
		if c.RateLimitRPM < 1 {
			log.Warn().Int("rpm", c.RateLimitRPM).Msg("Invalid inbound rate limit, using 120 RPM")
			c.RateLimitRPM = 120
		} else if c.RateLimitRPM > maxRateLimitRPM {
			log.Warn().
				Int("rpm", c.RateLimitRPM).
				Int("max", maxRateLimitRPM).
				Msg("Inbound rate limit too high, capping to maximum")
			c.RateLimitRPM = maxRateLimitRPM
		}
		if c.RateLimitBurst < 1 {
			log.Warn().Int("burst", c.RateLimitBurst).Msg("Invalid burst size, using 20")
			c.RateLimitBurst = 20
		}
	}

	// ProxyURL: single upstream for every launched browser. Credentialed
	// proxy URLs are refused rather than silently stripped.
	if c.ProxyURL != "" {
		if !strings.Contains(c.ProxyURL, "://") {
			log.Error().
				Str("proxy_url", security.RedactProxyURL(c.ProxyURL)).
				Msg("PROXY_URL missing scheme, ignoring")
			c.ProxyURL = ""
		} else if strings.Contains(c.ProxyURL, "@") {
			log.Error().
				Str("proxy_url", security.RedactProxyURL(c.ProxyURL)).
				Msg("PROXY_URL must not embed credentials, ignoring")
			c.ProxyURL = ""
		}
	}

	// Patterns path validation
	if c.PatternsPath != "" {
		if strings.Contains(c.PatternsPath, "..") {
			log.Error().
				Str("path", c.PatternsPath).
				Msg("PATTERNS_FILE contains path traversal sequence (..), ignoring")
			c.PatternsPath = ""
		} else if c.PatternsHotReload {
			if _, err := os.Stat(c.PatternsPath); os.IsNotExist(err) {
				log.Warn().
					Str("path", c.PatternsPath).
					Msg("PATTERNS_FILE does not exist - hot-reload will watch for file creation")
			}
		}
	}
	if c.PatternsHotReload && c.PatternsPath == "" {
		log.Warn().Msg("PATTERNS_HOT_RELOAD enabled but PATTERNS_FILE not set - hot-reload disabled")
		c.PatternsHotReload = false
	}

	// Admin token: short tokens are a warning, missing token disables the
	// admin surface (handlers answer 503 rather than running unauthenticated).
	if c.AdminToken != "" && len(c.AdminToken) < minAdminTokenLength {
		log.Warn().
			Int("length", len(c.AdminToken)).
			Int("min_recommended", minAdminTokenLength).
			Msg("ADMIN_TOKEN is short, consider a longer token")
	}
	if c.AdminToken == "" && !c.ProductionMode {
		log.Warn().Msg("ADMIN_TOKEN not set - reset endpoints will answer 503")
	}

	if len(c.CORSAllowedOrigins) == 0 {
		log.Warn().Msg("CORS_ALLOWED_ORIGINS not set - allowing all origins")
	}

	// Side-server port conflicts.
	usedPorts := map[int]string{c.Port: "PORT"}
	if c.PrometheusEnabled {
		if name, exists := usedPorts[c.PrometheusPort]; exists {
			log.Error().
				Int("port", c.PrometheusPort).
				Str("conflicts_with", name).
				Msg("PROMETHEUS_PORT conflicts with another port, disabling metrics server")
			c.PrometheusEnabled = false
		} else {
			usedPorts[c.PrometheusPort] = "PROMETHEUS_PORT"
		}
	}
	if c.PProfEnabled {
		if name, exists := usedPorts[c.PProfPort]; exists {
			log.Error().
				Int("port", c.PProfPort).
				Str("conflicts_with", name).
				Msg("PPROF_PORT conflicts with another port, disabling pprof server")
			c.PProfEnabled = false
		}
	}
}

func (c *Config) validateExtractionTimeouts() {
	if c.NavigationTimeout < time.Second {
		log.Warn().Dur("timeout", c.NavigationTimeout).Msg("Navigation timeout too short, using 30s")
		c.NavigationTimeout = 30 * time.Second
	} else if c.NavigationTimeout > 2*time.Minute {
		log.Warn().Dur("timeout", c.NavigationTimeout).Msg("Navigation timeout too long, capping at 2m")
		c.NavigationTimeout = 2 * time.Minute
	}

	// Settle time is capped hard: a hostile POST_LOAD_SETTLE must not be
	// able to park a browser for minutes.
	if c.PostLoadSettle < 0 {
		c.PostLoadSettle = 0
	} else if c.PostLoadSettle > maxSettleTime {
		log.Warn().
			Dur("settle", c.PostLoadSettle).
			Dur("max", maxSettleTime).
			Msg("Post-load settle too long, capping to maximum")
		c.PostLoadSettle = maxSettleTime
	}

	if c.ChallengeWaitTimeout < time.Second {
		log.Warn().Dur("timeout", c.ChallengeWaitTimeout).Msg("Challenge wait too short, using 10s")
		c.ChallengeWaitTimeout = 10 * time.Second
	} else if c.ChallengeWaitTimeout > time.Minute {
		log.Warn().Dur("timeout", c.ChallengeWaitTimeout).Msg("Challenge wait too long, capping at 1m")
		c.ChallengeWaitTimeout = time.Minute
	}

	if c.ScrapeTimeout < 10*time.Second {
		log.Warn().Dur("timeout", c.ScrapeTimeout).Msg("Scrape timeout too short, using 90s")
		c.ScrapeTimeout = 90 * time.Second
	} else if c.ScrapeTimeout > maxScrapeTimeout {
		log.Warn().
			Dur("timeout", c.ScrapeTimeout).
			Dur("max", maxScrapeTimeout).
			Msg("Scrape timeout too long, capping to maximum")
		c.ScrapeTimeout = maxScrapeTimeout
	}
}

func (c *Config) validateCookiePolicy() {
	if len(c.CookieAllowlist) == 0 {
		log.Warn().Msg("COOKIE_ALLOWLIST empty - credentialed scrapes cannot install any cookies")
	}
	// Required names must be installable, otherwise validation can never
	// pass its structure check against cookies that will be dropped.
	allowed := make(map[string]bool, len(c.CookieAllowlist))
	for _, name := range c.CookieAllowlist {
		allowed[name] = true
	}
	for _, name := range c.RequiredCookies {
		if !allowed[name] {
			log.Warn().
				Str("cookie", name).
				Msg("Required cookie missing from COOKIE_ALLOWLIST, adding it")
			c.CookieAllowlist = append(c.CookieAllowlist, name)
		}
	}
	if c.SessionCookie == "" {
		c.SessionCookie = "PHPSESSID"
	}
}

func (c *Config) validateSessionConfig() {
	const minCacheTTL = 30 * time.Second
	const maxCacheTTL = 24 * time.Hour
	if c.SessionCacheTTL < minCacheTTL {
		log.Warn().
			Dur("ttl", c.SessionCacheTTL).
			Dur("min", minCacheTTL).
			Msg("Session cache TTL too short, using minimum")
		c.SessionCacheTTL = minCacheTTL
	} else if c.SessionCacheTTL > maxCacheTTL {
		log.Warn().
			Dur("ttl", c.SessionCacheTTL).
			Dur("max", maxCacheTTL).
			Msg("Session cache TTL too long, using maximum")
		c.SessionCacheTTL = maxCacheTTL
	}

	if c.SessionCacheMax < 1 {
		log.Warn().Int("max", c.SessionCacheMax).Msg("Invalid session cache size, using 100")
		c.SessionCacheMax = 100
	} else if c.SessionCacheMax > maxSessionCacheSize {
		log.Warn().
			Int("size", c.SessionCacheMax).
			Int("max", maxSessionCacheSize).
			Msg("Session cache too large, capping to maximum")
		c.SessionCacheMax = maxSessionCacheSize
	}

	if c.AuthErrorThreshold < 1 {
		log.Warn().Int("threshold", c.AuthErrorThreshold).Msg("Invalid auth error threshold, using 2")
		c.AuthErrorThreshold = 2
	}
	if c.PauseThreshold < 1 {
		log.Warn().Int("threshold", c.PauseThreshold).Msg("Invalid pause threshold, using 3")
		c.PauseThreshold = 3
	}

	if c.FailureCooldown < time.Second {
		log.Warn().Dur("cooldown", c.FailureCooldown).Msg("Failure cooldown too short, using 20s")
		c.FailureCooldown = 20 * time.Second
	} else if c.FailureCooldown > 10*time.Minute {
		log.Warn().Dur("cooldown", c.FailureCooldown).Msg("Failure cooldown too long, capping at 10m")
		c.FailureCooldown = 10 * time.Minute
	}

	if c.ProbeCacheTTL < 10*time.Second {
		log.Warn().Dur("ttl", c.ProbeCacheTTL).Msg("Probe cache TTL too short, using 60s")
		c.ProbeCacheTTL = 60 * time.Second
	}
	if c.ProbeTimeout < time.Second || c.ProbeTimeout > time.Minute {
		log.Warn().Dur("timeout", c.ProbeTimeout).Msg("Invalid probe timeout, using 10s")
		c.ProbeTimeout = 10 * time.Second
	}
}

func (c *Config) validatePacing() {
	if c.RateMinDelay < 50*time.Millisecond {
		log.Warn().Dur("min", c.RateMinDelay).Msg("Pacing floor too low, using 274ms")
		c.RateMinDelay = 274 * time.Millisecond
	}
	if c.RateMaxDelay < c.RateMinDelay {
		log.Warn().
			Dur("max", c.RateMaxDelay).
			Dur("min", c.RateMinDelay).
			Msg("Pacing ceiling below floor, using 180s")
		c.RateMaxDelay = 180 * time.Second
	}
	if c.RateInitialDelay < c.RateMinDelay || c.RateInitialDelay > c.RateMaxDelay {
		log.Warn().
			Dur("initial", c.RateInitialDelay).
			Msg("Initial pacing delay outside bounds, using 2067ms")
		c.RateInitialDelay = 2067 * time.Millisecond
	}
	if c.RateBackoffFactor <= 1.0 || c.RateBackoffFactor > 10.0 {
		log.Warn().
			Float64("factor", c.RateBackoffFactor).
			Msg("Invalid backoff factor, using 1.4")
		c.RateBackoffFactor = 1.4
	}
	if c.RateRecoverySuccesses < 1 {
		log.Warn().
			Int("successes", c.RateRecoverySuccesses).
			Msg("Invalid recovery success count, using 3")
		c.RateRecoverySuccesses = 3
	}
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		floatValue, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return floatValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Float64("default", defaultValue).
			Msg("Invalid float in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			if duration > 0 {
				return duration
			}
			log.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", defaultValue).
				Msg("Duration must be positive, using default")
			return defaultValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
