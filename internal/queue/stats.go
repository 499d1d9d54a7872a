package queue

import (
	"github.com/mokutsu/mfcscraper-go/internal/types"
)

// LaneDepths is the queued item count per lane.
type LaneDepths struct {
	Hot  int `json:"hot"`
	Warm int `json:"warm"`
	Cold int `json:"cold"`
}

// StatusCounters splits outcomes by the collection-status tag.
type StatusCounters struct {
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Stats is a point-in-time snapshot of the queue.
type Stats struct {
	Lanes        LaneDepths                `json:"lanes"`
	Pending      int                       `json:"pending"`
	InFlight     string                    `json:"inFlight,omitempty"`
	Enqueued     int64                     `json:"enqueued"`
	Completed    int64                     `json:"completed"`
	Failed       int64                     `json:"failed"`
	Deduplicated int64                     `json:"deduplicated"`
	ByStatus     map[string]StatusCounters `json:"byStatus"`
	// CurrentDelayMs is the pacing gap the rate limiter currently enforces.
	CurrentDelayMs int64 `json:"currentDelayMs"`
	RateLimited    bool  `json:"rateLimited"`
}

// Stats returns a consistent snapshot under the queue mutex.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{
		Lanes: LaneDepths{
			Hot:  len(q.lanes[types.LaneHot]),
			Warm: len(q.lanes[types.LaneWarm]),
			Cold: len(q.lanes[types.LaneCold]),
		},
		Pending:        len(q.pending),
		Enqueued:       q.counters.enqueued,
		Completed:      q.counters.completed,
		Failed:         q.counters.failed,
		Deduplicated:   q.counters.deduplicated,
		ByStatus:       make(map[string]StatusCounters, len(q.counters.byStatus)),
		CurrentDelayMs: q.limiter.CurrentDelay().Milliseconds(),
		RateLimited:    q.limiter.IsRateLimited(),
	}
	if q.inFlight != nil {
		s.InFlight = q.inFlight.fingerprint
	}
	for status, row := range q.counters.byStatus {
		s.ByStatus[string(status)] = *row
	}
	return s
}
