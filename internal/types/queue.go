package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Lane is a priority tier within the scrape queue. Lower values dispatch
// first; the zero value is "unset" and normalizes to LaneWarm.
type Lane int

const (
	laneUnset Lane = iota
	LaneHot
	LaneWarm
	LaneCold
)

// Lanes lists the dispatch scan order.
var Lanes = []Lane{LaneHot, LaneWarm, LaneCold}

// String implements fmt.Stringer for logging and stats.
func (l Lane) String() string {
	switch l {
	case LaneHot:
		return "hot"
	case LaneWarm:
		return "warm"
	case LaneCold:
		return "cold"
	default:
		return "unset"
	}
}

// HigherThan reports whether l outranks other (HOT > WARM > COLD).
func (l Lane) HigherThan(other Lane) bool {
	return l != laneUnset && l < other
}

// ParseLane converts a wire value to a Lane. Empty input is the unset lane,
// which Normalize resolves to WARM.
func ParseLane(s string) (Lane, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return laneUnset, nil
	case "hot":
		return LaneHot, nil
	case "warm":
		return LaneWarm, nil
	case "cold":
		return LaneCold, nil
	default:
		return laneUnset, fmt.Errorf("unknown priority %q (want hot, warm or cold)", s)
	}
}

// MarshalJSON encodes the lane as its string name.
func (l Lane) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON accepts the string names, case-insensitively.
func (l *Lane) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	lane, err := ParseLane(s)
	if err != nil {
		return err
	}
	*l = lane
	return nil
}

// CollectionStatus tags a request with the user's relationship to the item.
// It drives the scoring bonus and the per-status counters.
type CollectionStatus string

const (
	StatusOwned   CollectionStatus = "owned"
	StatusOrdered CollectionStatus = "ordered"
	StatusWished  CollectionStatus = "wished"
)

// Valid reports whether s is one of the known status tags.
func (s CollectionStatus) Valid() bool {
	switch s {
	case StatusOwned, StatusOrdered, StatusWished:
		return true
	}
	return false
}

// Recovery actions offered to operators when a session pauses.
const (
	ActionResume     = "resume"
	ActionCancelItem = "cancel_item"
	ActionCancelAll  = "cancel_all"
)

// MaxRetriesCeiling caps the per-item retry budget regardless of what the
// request or config asks for.
const MaxRetriesCeiling = 10

// DefaultUserID is attributed to enqueues that carry no user id.
const DefaultUserID = "anonymous"

// EnqueueOptions carries everything an enqueue may specify beyond the
// fingerprint. The zero value is usable: Normalize fills the defaults.
type EnqueueOptions struct {
	Priority   Lane              `json:"priority"`
	Status     CollectionStatus  `json:"status,omitempty"`
	Cookies    map[string]string `json:"cookies,omitempty"`
	SessionID  string            `json:"sessionId,omitempty"`
	UserID     string            `json:"userId,omitempty"`
	MaxRetries int               `json:"maxRetries,omitempty"`
}

// Normalize applies the documented defaults: WARM priority, wished status,
// anonymous user, retry cap from defaultRetries (clamped to the ceiling).
func (o *EnqueueOptions) Normalize(defaultRetries int) {
	if o.Priority <= laneUnset || o.Priority > LaneCold {
		o.Priority = LaneWarm
	}
	if o.Status == "" {
		o.Status = StatusWished
	}
	if o.UserID == "" {
		o.UserID = DefaultUserID
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultRetries
	}
	if o.MaxRetries > MaxRetriesCeiling {
		o.MaxRetries = MaxRetriesCeiling
	}
}

// HasCredentials reports whether the options carry a non-empty cookie bag.
func (o *EnqueueOptions) HasCredentials() bool {
	return len(o.Cookies) > 0
}

// Outcome is the terminal result delivered to every subscriber of a queue
// item: exactly one of Record or Err is set.
type Outcome struct {
	Record *Record
	Err    error
}

// EnqueueResult is returned from Queue.Enqueue.
type EnqueueResult struct {
	// ID is the queue item id, formatted <fingerprint>-<timestamp>-<random>.
	ID string `json:"id"`
	// Deduplicated is true when the request coalesced onto an existing item.
	Deduplicated bool `json:"deduplicated"`
	// Position is the approximate offset across HOT, WARM then COLD lanes at
	// enqueue time.
	Position int `json:"position"`
	// Done receives the single terminal outcome. Each subscriber owns its
	// channel; the send never blocks and happens exactly once.
	Done <-chan Outcome `json:"-"`
}
