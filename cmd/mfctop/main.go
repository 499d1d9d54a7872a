// mfctop is a terminal monitor for a running scraper service. It polls the
// sync endpoints and renders queue depths, pacing state, rolling scrape
// statistics and tracked sessions.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Wire shapes, mirroring the service's JSON responses. Declared locally so
// the monitor binary does not link the browser stack.
type queueStats struct {
	Lanes struct {
		Hot  int `json:"hot"`
		Warm int `json:"warm"`
		Cold int `json:"cold"`
	} `json:"lanes"`
	Pending        int    `json:"pending"`
	InFlight       string `json:"inFlight"`
	Enqueued       int64  `json:"enqueued"`
	Completed      int64  `json:"completed"`
	Failed         int64  `json:"failed"`
	Deduplicated   int64  `json:"deduplicated"`
	CurrentDelayMs int64  `json:"currentDelayMs"`
	RateLimited    bool   `json:"rateLimited"`
}

type scrapeStats struct {
	RequestCount   int64   `json:"requestCount"`
	SuccessCount   int64   `json:"successCount"`
	ErrorCount     int64   `json:"errorCount"`
	RateLimitCount int64   `json:"rateLimitCount"`
	ErrorRate      float64 `json:"errorRate"`
	AvgLatencyMs   int64   `json:"avgLatencyMs"`
	P95LatencyMs   int64   `json:"p95LatencyMs"`
	UptimeSeconds  int64   `json:"uptimeSeconds"`
}

type statsPayload struct {
	Queue   queueStats  `json:"queue"`
	Scrapes scrapeStats `json:"scrapes"`
}

type sessionRow struct {
	ID                  string `json:"id"`
	Valid               bool   `json:"valid"`
	Paused              bool   `json:"paused"`
	InCooldown          bool   `json:"inCooldown"`
	CooldownRemainingMs int64  `json:"cooldownRemainingMs"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	FailedItemCount     int    `json:"failedItemCount"`
}

type sessionsPayload struct {
	Sessions []sessionRow `json:"sessions"`
	Count    int          `json:"count"`
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	hotStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	warmStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	coldStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	goodStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type tickMsg time.Time

// pollMsg carries one round of poll results back into Update.
type pollMsg struct {
	stats    *statsPayload
	sessions []sessionRow
	err      error
}

type model struct {
	client   *http.Client
	baseURL  string
	interval time.Duration

	stats    *statsPayload
	sessions []sessionRow
	err      error
	lastPoll time.Time
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.poll(), tick(m.interval))
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// poll fetches both sync endpoints in one command so the view never renders
// a queue snapshot against a stale session list.
func (m model) poll() tea.Cmd {
	client, base := m.client, m.baseURL
	return func() tea.Msg {
		var payload statsPayload
		if err := getJSON(client, base+"/sync/queue/stats", &payload); err != nil {
			return pollMsg{err: err}
		}
		var sess sessionsPayload
		if err := getJSON(client, base+"/sync/sessions", &sess); err != nil {
			return pollMsg{err: err}
		}
		return pollMsg{stats: &payload, sessions: sess.Sessions}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.poll()
		}
	case tickMsg:
		return m, tea.Batch(m.poll(), tick(m.interval))
	case pollMsg:
		m.err = msg.err
		if msg.err == nil {
			m.stats = msg.stats
			m.sessions = msg.sessions
			m.lastPoll = time.Now()
		}
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("mfctop"))
	b.WriteString(dimStyle.Render("  " + m.baseURL))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(badStyle.Render("poll failed: "+m.err.Error()) + "\n\n")
	}
	if m.stats == nil {
		b.WriteString(dimStyle.Render("waiting for first snapshot...") + "\n\n")
		b.WriteString(m.footer())
		return b.String()
	}

	q := m.stats.Queue
	s := m.stats.Scrapes

	inFlight := q.InFlight
	if inFlight == "" {
		inFlight = "-"
	}
	queueBox := boxStyle.Render(strings.Join([]string{
		headerStyle.Render("QUEUE"),
		fmt.Sprintf("%s %3d  %s %3d  %s %3d",
			hotStyle.Render("hot"), q.Lanes.Hot,
			warmStyle.Render("warm"), q.Lanes.Warm,
			coldStyle.Render("cold"), q.Lanes.Cold),
		fmt.Sprintf("pending %d  in-flight %s", q.Pending, inFlight),
		fmt.Sprintf("done %d  failed %d  deduped %d", q.Completed, q.Failed, q.Deduplicated),
	}, "\n"))

	pacingState := goodStyle.Render("normal")
	if q.RateLimited {
		pacingState = badStyle.Render("BACKING OFF")
	}
	pacingBox := boxStyle.Render(strings.Join([]string{
		headerStyle.Render("PACING"),
		fmt.Sprintf("delay %s", time.Duration(q.CurrentDelayMs)*time.Millisecond),
		pacingState,
	}, "\n"))

	scrapeBox := boxStyle.Render(strings.Join([]string{
		headerStyle.Render("SCRAPES"),
		fmt.Sprintf("total %d  ok %d  err %d", s.RequestCount, s.SuccessCount, s.ErrorCount),
		fmt.Sprintf("error rate %.1f%%  rate limited %d", s.ErrorRate*100, s.RateLimitCount),
		fmt.Sprintf("latency avg %dms  p95 %dms", s.AvgLatencyMs, s.P95LatencyMs),
	}, "\n"))

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, queueBox, " ", pacingBox, " ", scrapeBox))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render(fmt.Sprintf("%-22s %-6s %-7s %-10s %9s %7s",
		"SESSION", "VALID", "PAUSED", "COOLDOWN", "FAILURES", "FAILED")))
	b.WriteString("\n")
	if len(m.sessions) == 0 {
		b.WriteString(dimStyle.Render("no tracked sessions") + "\n")
	}
	for _, sess := range m.sessions {
		valid := badStyle.Render("no")
		if sess.Valid {
			valid = goodStyle.Render("yes")
		}
		paused := dimStyle.Render("-")
		if sess.Paused {
			paused = badStyle.Render("yes")
		}
		cooldown := "-"
		if sess.InCooldown {
			cooldown = (time.Duration(sess.CooldownRemainingMs) * time.Millisecond).Round(time.Second).String()
		}
		// Styled cells carry escape codes, so pad the raw text first.
		b.WriteString(fmt.Sprintf("%-22s %s %s %-10s %9d %7d\n",
			truncate(sess.ID, 22),
			pad(valid, 6),
			pad(paused, 7),
			cooldown,
			sess.ConsecutiveFailures,
			sess.FailedItemCount))
	}

	b.WriteString("\n")
	b.WriteString(m.footer())
	return b.String()
}

func (m model) footer() string {
	updated := "never"
	if !m.lastPoll.IsZero() {
		updated = m.lastPoll.Format("15:04:05")
	}
	return dimStyle.Render(fmt.Sprintf("updated %s · every %s · q quit · r refresh", updated, m.interval))
}

// pad right-pads a styled string to a visible width, since Sprintf counts
// the invisible escape codes.
func pad(styled string, width int) string {
	if w := lipgloss.Width(styled); w < width {
		return styled + strings.Repeat(" ", width-w)
	}
	return styled
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-2] + ".."
}

func getJSON(client *http.Client, url string, dst any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8180", "scraper service base URL")
	interval := flag.Duration("interval", 2*time.Second, "poll interval")
	flag.Parse()

	m := model{
		client:   &http.Client{Timeout: 10 * time.Second},
		baseURL:  strings.TrimRight(*addr, "/"),
		interval: *interval,
	}

	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintln(os.Stderr, "mfctop:", err)
		os.Exit(1)
	}
}
