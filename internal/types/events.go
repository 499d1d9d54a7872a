package types

// SessionPausedEvent is emitted when a session crosses the consecutive
// failure threshold and requires operator action before its items dispatch
// again.
type SessionPausedEvent struct {
	SessionID          string   `json:"sessionId"`
	UserID             string   `json:"userId,omitempty"`
	FailureCount       int      `json:"failureCount"`
	FailedFingerprints []string `json:"failedFingerprints"`
	PendingCount       int      `json:"pendingCount"`
	// Actions are the recovery actions the operator may take.
	Actions []string `json:"actions"`
}

// SessionInvalidatedEvent is emitted when cached validation state for a
// session is discarded (auth-error threshold reached or explicit removal).
type SessionInvalidatedEvent struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

// Webhook event names.
const (
	EventItemCompleted = "item.completed"
	EventItemFailed    = "item.failed"
	EventItemSkipped   = "item.skipped"
)

// DiagnosisReason classifies why a session's scrapes are failing.
type DiagnosisReason string

const (
	DiagnosisCookiesExpired DiagnosisReason = "cookies_expired"
	DiagnosisSiteOverloaded DiagnosisReason = "mfc_overloaded"
	DiagnosisNetworkError   DiagnosisReason = "network_error"
	DiagnosisUnknown        DiagnosisReason = "unknown"
)

// Diagnosis is the result of probing whether failures are session-specific
// or site-wide.
type Diagnosis struct {
	Reason           DiagnosisReason `json:"reason"`
	Confidence       float64         `json:"confidence"`
	Explanation      string          `json:"explanation"`
	SiteReachable    bool            `json:"mfcReachable"`
	LastProbeSuccess bool            `json:"lastProbeSuccess"`
	LastProbeTime    int64           `json:"lastProbeTime,omitempty"` // unix millis, 0 when never probed
}
