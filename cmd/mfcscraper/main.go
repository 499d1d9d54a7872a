// Package main provides the entry point for the MFC scraper service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mokutsu/mfcscraper-go/internal/browser"
	"github.com/mokutsu/mfcscraper-go/internal/config"
	"github.com/mokutsu/mfcscraper-go/internal/extractor"
	"github.com/mokutsu/mfcscraper-go/internal/handlers"
	"github.com/mokutsu/mfcscraper-go/internal/metrics"
	"github.com/mokutsu/mfcscraper-go/internal/middleware"
	"github.com/mokutsu/mfcscraper-go/internal/patterns"
	"github.com/mokutsu/mfcscraper-go/internal/queue"
	"github.com/mokutsu/mfcscraper-go/internal/session"
	"github.com/mokutsu/mfcscraper-go/internal/stats"
	"github.com/mokutsu/mfcscraper-go/internal/types"
	"github.com/mokutsu/mfcscraper-go/internal/webhook"
	"github.com/mokutsu/mfcscraper-go/pkg/version"
)

// startupTimeout bounds browser pool initialization. Launching the pool plus
// the stealth browser on a cold container can take a while.
const startupTimeout = 2 * time.Minute

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup logging first so validation warnings are visible
	setupLogging(cfg.LogLevel, cfg.LogFormat)

	// Validate configuration
	cfg.Validate()

	// Print banner
	printBanner()

	// Challenge pattern library, optionally hot-reloaded from disk
	patternMgr, err := patterns.NewManager(cfg.PatternsPath, cfg.PatternsHotReload)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load challenge patterns")
	}

	// Initialize browser pool
	log.Info().Int("pool_size", cfg.BrowserPoolSize).Msg("Initializing browser pool...")
	pool := browser.NewPool(cfg)
	initCtx, cancelInit := context.WithTimeout(context.Background(), startupTimeout)
	if err := pool.Initialize(initCtx); err != nil {
		cancelInit()
		log.Fatal().Err(err).Msg("Failed to initialize browser pool")
	}
	cancelInit()

	// Outbound webhook notifier (no-op when WEBHOOK_URL is unset)
	notifier := webhook.New(cfg)

	// Scrape outcome tracker backing the stats endpoint
	tracker := stats.NewTracker()

	// Page extractor; also serves as the session manager's login validator
	ext := extractor.New(cfg, pool, patternMgr)

	// Session manager
	sessionMgr := session.NewManager(cfg, ext)

	// Scrape queue
	q := queue.New(cfg, sessionMgr, ext, notifier, tracker)

	// When a session pauses, probe whether the site itself is down so the
	// diagnosis is already in the log by the time the operator looks.
	unsubPaused := sessionMgr.OnPaused(func(evt types.SessionPausedEvent) {
		go diagnosePause(sessionMgr, cfg, evt)
	})

	q.Start()

	// HTTP surface
	handler := handlers.New(pool, sessionMgr, q, tracker, cfg)

	// Middleware, outermost first. Security headers sit outside the inbound
	// limiter so throttled responses carry them too.
	mws := []func(http.Handler) http.Handler{
		middleware.Recovery,
		middleware.Logging,
		middleware.SecurityHeaders,
	}
	var inboundLimit *middleware.RateLimit
	if cfg.RateLimitEnabled {
		log.Info().
			Int("requests_per_minute", cfg.RateLimitRPM).
			Int("burst", cfg.RateLimitBurst).
			Bool("trust_proxy", cfg.TrustProxy).
			Msg("Inbound rate limiting enabled")
		inboundLimit = middleware.NewRateLimit(cfg.RateLimitRPM, cfg.RateLimitBurst, cfg.TrustProxy)
		mws = append(mws, inboundLimit.Handler())
	}
	mws = append(mws, middleware.CORS(middleware.CORSConfig{AllowedOrigins: cfg.CORSAllowedOrigins}))

	// Create HTTP server. wait=true scrape submissions hold their response
	// open for up to five minutes, so the write timeout leaves them headroom.
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      middleware.Chain(mws...)(handler.Routes()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 6 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// Channel to signal shutdown to background tasks
	stopCh := make(chan struct{})

	// Start metrics server if enabled
	var metricsServer *http.Server
	if cfg.PrometheusEnabled {
		metrics.SetBuildInfo(version.Full(), version.GoVersion())

		go metrics.StartMemoryCollector(10*time.Second, stopCh)
		go pollGauges(5*time.Second, stopCh, q, sessionMgr, pool)

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.PrometheusPort),
			Handler:      metricsMux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}

		go func() {
			log.Info().
				Int("port", cfg.PrometheusPort).
				Msg("Prometheus metrics server started")

			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	// Start pprof server if enabled. Bound to loopback: it exposes runtime
	// internals and has no authentication of its own.
	var pprofServer *http.Server
	if cfg.PProfEnabled {
		pprofMux := http.NewServeMux()
		pprofMux.HandleFunc("/debug/pprof/", pprof.Index)
		pprofMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		pprofMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		pprofMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		pprofMux.HandleFunc("/debug/pprof/trace", pprof.Trace)

		pprofServer = &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.PProfPort),
			Handler:      pprofMux,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 60 * time.Second, // Profiles can take time
		}

		go func() {
			log.Warn().
				Str("addr", pprofServer.Addr).
				Msg("pprof profiling server started - exposes runtime internals, use for debugging only")

			if err := pprofServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("pprof server failed")
			}
		}()
	}

	// Start main server in goroutine
	go func() {
		log.Info().
			Str("address", addr).
			Str("target", cfg.TargetDomain).
			Int("pool_size", cfg.BrowserPoolSize).
			Dur("initial_pacing", cfg.RateInitialDelay).
			Bool("webhook_enabled", cfg.HasWebhook()).
			Bool("production_mode", cfg.ProductionMode).
			Msg("Scraper is ready to accept requests")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Signal background tasks to stop
	close(stopCh)

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Drain the HTTP surface first so no new work arrives
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown error")
		}
	}
	if pprofServer != nil {
		if err := pprofServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("pprof server shutdown error")
		}
	}

	// Stop the queue; this aborts any in-flight scrape
	q.Stop()
	unsubPaused()

	// Flush pending webhook deliveries
	notifier.Close()

	sessionMgr.Close()
	pool.CloseAll()

	if inboundLimit != nil {
		inboundLimit.Close()
	}
	if err := patternMgr.Close(); err != nil {
		log.Error().Err(err).Msg("Pattern manager close error")
	}

	log.Info().Msg("Shutdown complete")
}

// diagnosePause runs the site probe for a freshly paused session and logs
// the verdict.
func diagnosePause(sessionMgr *session.Manager, cfg *config.Config, evt types.SessionPausedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ProbeTimeout+5*time.Second)
	defer cancel()

	diag, err := sessionMgr.Diagnose(ctx, evt.SessionID)
	if err != nil {
		log.Warn().Err(err).Msg("Pause diagnosis failed")
		return
	}
	log.Warn().
		Str("reason", string(diag.Reason)).
		Float64("confidence", diag.Confidence).
		Bool("site_reachable", diag.SiteReachable).
		Int("pending", evt.PendingCount).
		Msg("Paused session diagnosed")
}

// pollGauges periodically refreshes the point-in-time Prometheus gauges.
// Counter-style metrics are recorded at their call sites; queue depth, pacing
// and pool occupancy have no single mutation point, so they are sampled.
func pollGauges(interval time.Duration, stopCh <-chan struct{}, q *queue.Queue, sessionMgr *session.Manager, pool *browser.Pool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			qs := q.Stats()
			metrics.UpdateQueueGauges(qs.Lanes.Hot, qs.Lanes.Warm, qs.Lanes.Cold,
				time.Duration(qs.CurrentDelayMs)*time.Millisecond, qs.RateLimited)

			snaps := sessionMgr.Sessions()
			paused := 0
			for _, s := range snaps {
				if s.Paused {
					paused++
				}
			}
			metrics.UpdateSessionGauges(len(snaps), paused)
			metrics.UpdatePoolGauges(pool.Size(), pool.Available())
		}
	}
}

// setupLogging configures zerolog output format and level.
func setupLogging(level, format string) {
	if format == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// printBanner prints the startup banner.
func printBanner() {
	banner := `
 __  __ _____ ____
|  \/  |  ___/ ___|  ___  ___ _ __ __ _ _ __   ___ _ __
| |\/| | |_ | |     / __|/ __| '__/ _' | '_ \ / _ \ '__|
| |  | |  _|| |___  \__ \ (__| | | (_| | |_) |  __/ |
|_|  |_|_|   \____| |___/\___|_|  \__,_| .__/ \___|_|
                                       |_|
`
	fmt.Println(banner)
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("Starting MFC scraper service")
}
