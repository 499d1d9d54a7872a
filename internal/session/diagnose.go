package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mokutsu/mfcscraper-go/internal/security"
	"github.com/mokutsu/mfcscraper-go/internal/types"
)

// probeKey is the singleflight key for the connectivity probe; there is
// one probe for the whole process, not one per session.
const probeKey = "probe"

// probeResult is what one connectivity probe run produces.
type probeResult struct {
	reachable bool
	err       error
	at        time.Time
}

// Diagnose determines whether a session's failures are site-wide or
// session-specific. It probes a known-public item over plain HTTP (at
// most one concurrent probe, result cached) and combines reachability
// with the session's failure history.
func (m *Manager) Diagnose(ctx context.Context, sessionID string) (types.Diagnosis, error) {
	res, err := m.probe(ctx)
	if err != nil {
		// The probe machinery itself failed (not the target); surface it.
		return types.Diagnosis{Reason: types.DiagnosisUnknown}, err
	}

	m.mu.Lock()
	var failures bool
	if e, ok := m.sessions[sessionID]; ok {
		failures = e.hasRecentFailures()
	}
	m.mu.Unlock()

	d := types.Diagnosis{
		SiteReachable:    res.reachable,
		LastProbeSuccess: res.reachable,
	}
	if !res.at.IsZero() {
		d.LastProbeTime = res.at.UnixMilli()
	}

	switch {
	case res.err != nil:
		d.Reason = types.DiagnosisNetworkError
		d.Confidence = 0.6
		d.Explanation = "connectivity probe could not reach the site; check network or DNS"
	case !res.reachable:
		d.Reason = types.DiagnosisSiteOverloaded
		d.Confidence = 0.7
		d.Explanation = "site responded with an error to an unauthenticated probe; failures are likely site-wide"
	case failures:
		d.Reason = types.DiagnosisCookiesExpired
		d.Confidence = 0.8
		d.Explanation = "site is reachable but this session keeps failing; credentials have likely expired"
	default:
		d.Reason = types.DiagnosisUnknown
		d.Confidence = 0.3
		d.Explanation = "site is reachable and the session has no recent failures"
	}

	log.Debug().
		Str("session_id", security.SanitizeForLog(sessionID)).
		Str("reason", string(d.Reason)).
		Bool("reachable", d.SiteReachable).
		Msg("Session diagnosed")

	return d, nil
}

// probe returns the cached probe result when fresh, otherwise runs one
// shared probe against the configured public item URL.
func (m *Manager) probe(ctx context.Context) (probeResult, error) {
	m.mu.Lock()
	if !m.lastProbeTime.IsZero() && time.Since(m.lastProbeTime) < m.cfg.ProbeCacheTTL {
		cached := probeResult{
			reachable: m.lastProbeSuccess,
			err:       m.lastProbeErr,
			at:        m.lastProbeTime,
		}
		m.mu.Unlock()
		return cached, nil
	}
	m.mu.Unlock()

	v, err, _ := m.probeGroup.Do(probeKey, func() (interface{}, error) {
		res := m.runProbe(ctx)

		m.mu.Lock()
		m.lastProbeTime = res.at
		m.lastProbeSuccess = res.reachable
		m.lastProbeErr = res.err
		m.mu.Unlock()

		return res, nil
	})
	if err != nil {
		return probeResult{}, err
	}
	return v.(probeResult), nil
}

// runProbe performs one plain-HTTP GET of the public probe URL.
// Reachable means any status below 500; auth walls and 404s still prove
// the site is up.
func (m *Manager) runProbe(ctx context.Context) probeResult {
	res := probeResult{at: time.Now()}

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, m.cfg.ProbeURL, nil)
	if err != nil {
		res.err = fmt.Errorf("building probe request: %w", err)
		return res
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		res.err = err
		log.Warn().
			Err(err).
			Str("url", security.RedactURL(m.cfg.ProbeURL)).
			Msg("Connectivity probe failed")
		return res
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	res.reachable = resp.StatusCode < 500

	log.Debug().
		Int("status", resp.StatusCode).
		Bool("reachable", res.reachable).
		Msg("Connectivity probe completed")

	return res
}
