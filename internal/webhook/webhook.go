// Package webhook delivers fire-and-forget notifications about item
// outcomes to a configured HTTP endpoint. Delivery never blocks or fails
// the scrape that triggered it.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mokutsu/mfcscraper-go/internal/config"
	"github.com/mokutsu/mfcscraper-go/internal/metrics"
	"github.com/mokutsu/mfcscraper-go/internal/security"
	"github.com/mokutsu/mfcscraper-go/internal/types"
	"github.com/mokutsu/mfcscraper-go/pkg/version"
)

// signatureHeader carries the HMAC-SHA256 of the body when a secret is
// configured, in the form "sha256=<hex>".
const signatureHeader = "X-Scraper-Signature"

// defaultRetryDelays paces delivery attempts. The first attempt is
// immediate; later ones back off so a restarting receiver gets a chance.
var defaultRetryDelays = []time.Duration{0, time.Second, 5 * time.Second, 30 * time.Second}

// Event is the JSON body sent to the webhook endpoint.
type Event struct {
	Event       string        `json:"event"`
	Fingerprint string        `json:"fingerprint"`
	Timestamp   int64         `json:"timestamp"` // unix millis
	Record      *types.Record `json:"record,omitempty"`
	Error       string        `json:"error,omitempty"`
	ErrorKind   string        `json:"errorKind,omitempty"`
	Reason      string        `json:"reason,omitempty"`
}

// Notifier posts events asynchronously. The zero value is not usable; use
// New. All methods are safe for concurrent use.
type Notifier struct {
	cfg         *config.Config
	client      *http.Client
	retryDelays []time.Duration

	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup

	delivered atomic.Int64
	failed    atomic.Int64
}

// New builds a Notifier from the webhook settings. When no URL is
// configured every Notify call is a no-op.
func New(cfg *config.Config) *Notifier {
	return &Notifier{
		cfg:         cfg,
		client:      &http.Client{Timeout: cfg.WebhookTimeout},
		retryDelays: defaultRetryDelays,
		closeCh:     make(chan struct{}),
	}
}

// NotifyCompleted announces a successful scrape with its record.
func (n *Notifier) NotifyCompleted(rec *types.Record) {
	if rec == nil {
		return
	}
	n.dispatch(Event{
		Event:       types.EventItemCompleted,
		Fingerprint: rec.Fingerprint,
		Record:      rec,
	})
}

// NotifyFailed announces an item that exhausted its retries or hit a
// permanent failure.
func (n *Notifier) NotifyFailed(fingerprint string, kind types.ErrorKind, errMsg string) {
	n.dispatch(Event{
		Event:       types.EventItemFailed,
		Fingerprint: fingerprint,
		Error:       security.SanitizeForLog(errMsg),
		ErrorKind:   string(kind),
	})
}

// NotifySkipped announces an item dropped without a scrape attempt
// (cancellation, queue clear).
func (n *Notifier) NotifySkipped(fingerprint, reason string) {
	n.dispatch(Event{
		Event:       types.EventItemSkipped,
		Fingerprint: fingerprint,
		Reason:      reason,
	})
}

// Stats returns delivery counters for observability endpoints.
func (n *Notifier) Stats() (delivered, failed int64) {
	return n.delivered.Load(), n.failed.Load()
}

// Close stops accepting events and interrupts pending retry waits. Safe to
// call more than once.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.closeCh)
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *Notifier) dispatch(evt Event) {
	if !n.cfg.HasWebhook() {
		return
	}
	evt.Timestamp = time.Now().UnixMilli()

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		log.Debug().Str("event", evt.Event).Msg("Notifier closed, dropping webhook event")
		return
	}
	n.wg.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.wg.Done()
		n.deliver(evt)
	}()
}

func (n *Notifier) deliver(evt Event) {
	body, err := json.Marshal(evt)
	if err != nil {
		// Records are plain data; this only fires on a programming error.
		log.Error().Err(err).Str("event", evt.Event).Msg("Webhook event did not marshal")
		n.failed.Add(1)
		metrics.RecordWebhookDelivery(false)
		return
	}

	for attempt, delay := range n.retryDelays {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-n.closeCh:
				log.Debug().
					Str("event", evt.Event).
					Str("fingerprint", evt.Fingerprint).
					Msg("Notifier closing, abandoning webhook delivery")
				n.failed.Add(1)
				metrics.RecordWebhookDelivery(false)
				return
			}
		}

		if err := n.post(body); err == nil {
			n.delivered.Add(1)
			metrics.RecordWebhookDelivery(true)
			log.Debug().
				Str("event", evt.Event).
				Str("fingerprint", evt.Fingerprint).
				Int("attempt", attempt+1).
				Msg("Webhook delivered")
			return
		} else if attempt == len(n.retryDelays)-1 {
			n.failed.Add(1)
			metrics.RecordWebhookDelivery(false)
			log.Warn().
				Err(err).
				Str("event", evt.Event).
				Str("fingerprint", evt.Fingerprint).
				Str("url", security.RedactURL(n.cfg.WebhookURL)).
				Int("attempts", attempt+1).
				Msg("Webhook delivery gave up")
		}
	}
}

func (n *Notifier) post(body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.WebhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "mfcscraper/"+version.Version)
	if n.cfg.WebhookSecret != "" {
		req.Header.Set(signatureHeader, "sha256="+signBody(body, n.cfg.WebhookSecret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

func signBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type statusError struct{ code int }

func (e *statusError) Error() string {
	return "webhook endpoint returned status " + strconv.Itoa(e.code)
}
