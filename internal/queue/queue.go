// Package queue is the controlling element of the scraper: it accepts
// requests, coalesces duplicates per fingerprint, schedules by lane and
// score, paces dispatches through the adaptive rate limiter, and notifies
// every waiter exactly once.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mokutsu/mfcscraper-go/internal/config"
	"github.com/mokutsu/mfcscraper-go/internal/extractor"
	"github.com/mokutsu/mfcscraper-go/internal/metrics"
	"github.com/mokutsu/mfcscraper-go/internal/ratelimit"
	"github.com/mokutsu/mfcscraper-go/internal/security"
	"github.com/mokutsu/mfcscraper-go/internal/session"
	"github.com/mokutsu/mfcscraper-go/internal/stats"
	"github.com/mokutsu/mfcscraper-go/internal/types"
	"github.com/mokutsu/mfcscraper-go/internal/webhook"
)

// Scraper runs one page extraction. *extractor.Extractor satisfies it; tests
// substitute a fake.
type Scraper interface {
	Extract(ctx context.Context, req extractor.Request) (*types.Record, error)
}

// statusBonus is the scoring weight of the collection-status tag.
var statusBonus = map[types.CollectionStatus]int{
	types.StatusOwned:   30,
	types.StatusOrdered: 20,
	types.StatusWished:  10,
}

// item is one queued fingerprint with everyone waiting on it.
type item struct {
	id          string
	fingerprint string
	lane        types.Lane
	status      types.CollectionStatus
	cookies     map[string]string
	sessionID   string
	// userID is the first requester; session pause events are attributed
	// to it.
	userID      string
	waiters     map[string]struct{}
	subscribers []chan types.Outcome
	maxRetries  int
	retryCount  int
	enqueuedAt  time.Time
	lastError   string
	errorKind   types.ErrorKind
}

func (it *item) credentialed() bool {
	return len(it.cookies) > 0 && it.sessionID != ""
}

// score is the in-lane sort key, higher first. Computed at insertion time,
// so re-queued items pick up their grown age and audience.
func (it *item) score(now time.Time) int {
	s, ok := statusBonus[it.status]
	if !ok {
		s = statusBonus[types.StatusWished]
	}
	if it.credentialed() {
		s += 20
	}
	if pop := 5 * len(it.waiters); pop < 20 {
		s += pop
	} else {
		s += 20
	}
	if age := int(now.Sub(it.enqueuedAt).Minutes()); age < 10 {
		s += age
	} else {
		s += 10
	}
	return s
}

type counters struct {
	enqueued     int64
	completed    int64
	failed       int64
	deduplicated int64
	byStatus     map[types.CollectionStatus]*StatusCounters
}

func (c *counters) statusRow(status types.CollectionStatus) *StatusCounters {
	row, ok := c.byStatus[status]
	if !ok {
		row = &StatusCounters{}
		c.byStatus[status] = row
	}
	return row
}

// Queue owns all scheduling state. One background goroutine (the processing
// loop) is the single writer of dispatch decisions; external mutators take
// the mutex for short critical sections and kick the loop through a
// buffered signal channel.
type Queue struct {
	cfg      *config.Config
	sessions *session.Manager
	scraper  Scraper
	notifier *webhook.Notifier
	tracker  *stats.Tracker

	mu       sync.Mutex
	limiter  *ratelimit.Limiter // guarded by mu
	lanes    map[types.Lane][]*item
	pending  map[string]*item // fingerprint -> item, queued or in-flight
	inFlight *item
	counters counters
	started  bool
	stopped  bool

	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	scrapeCtx    context.Context
	scrapeCancel context.CancelFunc
}

// New assembles a Queue. Call Start to run the processing loop and Stop to
// shut it down.
func New(cfg *config.Config, sessions *session.Manager, scraper Scraper, notifier *webhook.Notifier, tracker *stats.Tracker) *Queue {
	limiter := ratelimit.NewLimiter(cfg.RateInitialDelay, cfg.RateMinDelay, cfg.RateMaxDelay)
	limiter.Tune(cfg.RateBackoffFactor, cfg.RateRecoverySuccesses)

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:      cfg,
		sessions: sessions,
		scraper:  scraper,
		notifier: notifier,
		tracker:  tracker,
		limiter:  limiter,
		lanes:    make(map[types.Lane][]*item),
		pending:  make(map[string]*item),
		counters: counters{byStatus: make(map[types.CollectionStatus]*StatusCounters)},
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),

		scrapeCtx:    ctx,
		scrapeCancel: cancel,
	}
}

// Start launches the processing loop. Idempotent.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.stopped {
		return
	}
	q.started = true
	q.wg.Add(1)
	go q.run()
	log.Info().Msg("Queue processing loop started")
}

// Stop halts the loop and aborts any in-flight scrape. Queued items stay
// queued; their subscribers only resolve if the in-flight item finishes
// failing. Safe to call more than once.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	close(q.stopCh)
	q.scrapeCancel()
	q.wg.Wait()
	log.Info().Msg("Queue stopped")
}

// Kick nudges the processing loop to rescan, for callers whose mutation
// made an item processable again (such as a session resume).
func (q *Queue) Kick() {
	q.kick()
}

func (q *Queue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Enqueue adds a scrape request for the fingerprint, coalescing onto an
// existing item when one is pending. The returned Done channel receives the
// single terminal outcome.
func (q *Queue) Enqueue(fingerprint string, opts types.EnqueueOptions) (types.EnqueueResult, error) {
	if !security.ValidFingerprint(fingerprint) {
		return types.EnqueueResult{}, types.ErrInvalidFingerprint
	}
	opts.Normalize(q.cfg.QueueMaxRetries)
	if err := security.ValidateCookies(opts.Cookies); err != nil {
		return types.EnqueueResult{}, err
	}
	if opts.SessionID != "" {
		if msg := security.ValidateSessionID(opts.SessionID); msg != "" {
			return types.EnqueueResult{}, fmt.Errorf("invalid session id: %s", msg)
		}
	}

	// Credentialed work jumps to HOT unless explicitly parked in COLD.
	lane := opts.Priority
	if opts.HasCredentials() && lane != types.LaneCold {
		lane = types.LaneHot
	}

	done := make(chan types.Outcome, 1)

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return types.EnqueueResult{}, types.ErrQueueClosed
	}

	if existing, ok := q.pending[fingerprint]; ok {
		result := q.coalesceLocked(existing, lane, opts, done)
		q.mu.Unlock()
		q.kick()
		metrics.RecordCoalesced()
		log.Debug().
			Str("fingerprint", fingerprint).
			Str("lane", result.laneName).
			Int("waiters", result.waiters).
			Msg("Request coalesced onto pending item")
		return result.EnqueueResult, nil
	}

	it := &item{
		id:          newItemID(fingerprint),
		fingerprint: fingerprint,
		lane:        lane,
		status:      opts.Status,
		cookies:     opts.Cookies,
		sessionID:   opts.SessionID,
		userID:      opts.UserID,
		waiters:     map[string]struct{}{opts.UserID: {}},
		subscribers: []chan types.Outcome{done},
		maxRetries:  opts.MaxRetries,
		enqueuedAt:  time.Now(),
	}
	q.insertLocked(it)
	q.pending[fingerprint] = it
	q.counters.enqueued++
	pos := q.positionLocked(it)
	q.mu.Unlock()
	q.kick()
	metrics.RecordEnqueue(lane.String())

	log.Info().
		Str("fingerprint", fingerprint).
		Str("lane", lane.String()).
		Str("status", string(opts.Status)).
		Bool("credentialed", it.credentialed()).
		Int("position", pos).
		Msg("Item enqueued")
	return types.EnqueueResult{ID: it.id, Position: pos, Done: done}, nil
}

type coalesceResult struct {
	types.EnqueueResult
	laneName string
	waiters  int
}

// coalesceLocked folds a duplicate request into the pending item: the
// waiter set grows, the lane only ever rises, credentials attach when the
// item had none.
func (q *Queue) coalesceLocked(existing *item, lane types.Lane, opts types.EnqueueOptions, done chan types.Outcome) coalesceResult {
	existing.waiters[opts.UserID] = struct{}{}

	if lane.HigherThan(existing.lane) {
		q.moveLaneLocked(existing, lane)
	}
	if opts.HasCredentials() && len(existing.cookies) == 0 {
		existing.cookies = opts.Cookies
		existing.sessionID = opts.SessionID
		if lane != types.LaneCold && existing.lane != types.LaneHot {
			q.moveLaneLocked(existing, types.LaneHot)
		}
	}

	existing.subscribers = append(existing.subscribers, done)
	q.counters.deduplicated++

	return coalesceResult{
		EnqueueResult: types.EnqueueResult{
			ID:           existing.id,
			Deduplicated: true,
			Position:     q.positionLocked(existing),
			Done:         done,
		},
		laneName: existing.lane.String(),
		waiters:  len(existing.waiters),
	}
}

// insertLocked places the item into its lane before the first entry with a
// strictly lower score; ties keep insertion order.
func (q *Queue) insertLocked(it *item) {
	now := time.Now()
	score := it.score(now)
	lane := q.lanes[it.lane]

	idx := len(lane)
	for i, existing := range lane {
		if existing.score(now) < score {
			idx = i
			break
		}
	}
	lane = append(lane, nil)
	copy(lane[idx+1:], lane[idx:])
	lane[idx] = it
	q.lanes[it.lane] = lane
}

// moveLaneLocked retargets an item's lane. Items currently in a lane are
// re-inserted by score; an in-flight item only has its tag updated, which
// takes effect if it re-queues.
func (q *Queue) moveLaneLocked(it *item, lane types.Lane) {
	wasQueued := q.removeFromLaneLocked(it)
	it.lane = lane
	if wasQueued {
		q.insertLocked(it)
	}
}

func (q *Queue) removeFromLaneLocked(target *item) bool {
	lane := q.lanes[target.lane]
	for i, it := range lane {
		if it == target {
			q.lanes[target.lane] = append(lane[:i], lane[i+1:]...)
			return true
		}
	}
	return false
}

// positionLocked reports the item's 1-based offset scanning HOT, WARM then
// COLD. Zero means in-flight right now.
func (q *Queue) positionLocked(target *item) int {
	if q.inFlight == target {
		return 0
	}
	pos := 0
	for _, lane := range types.Lanes {
		for _, it := range q.lanes[lane] {
			pos++
			if it == target {
				return pos
			}
		}
	}
	return pos
}

func (q *Queue) depthLocked() int {
	n := 0
	for _, lane := range types.Lanes {
		n += len(q.lanes[lane])
	}
	return n
}

func (q *Queue) pendingForSessionLocked(sessionID string) int {
	n := 0
	for _, it := range q.pending {
		if it.sessionID == sessionID {
			n++
		}
	}
	return n
}

func newItemID(fingerprint string) string {
	return fmt.Sprintf("%s-%d-%s", fingerprint, time.Now().UnixMilli(), uuid.NewString()[:8])
}

// resolve delivers the terminal outcome to each subscriber. Channels are
// buffered and owned by the queue, so the send cannot block and happens
// exactly once.
func resolve(subs []chan types.Outcome, out types.Outcome) {
	for _, ch := range subs {
		ch <- out
		close(ch)
	}
}
