// Package metrics tracks request, error and zombie counters with sliding
// alert windows, fires edge-triggered alert log lines, and renders the
// /metrics and /dashboard text bodies.
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/miniverse/matchmaker/internal/allocator"
)

var logger = logrus.WithFields(logrus.Fields{
	"service":   "matchmaker",
	"component": "metrics",
})

// Snapshot is a point-in-time copy of the counters and window sizes.
type Snapshot struct {
	RequestsTotal   int64   `json:"requests_total"`
	MatchesCreated  int64   `json:"matches_created"`
	ErrorsTotal     int64   `json:"errors_total"`
	ErrorsInWindow  int     `json:"errors_in_window"`
	ZombiesTotal    int64   `json:"zombies_total"`
	ZombiesInWindow int     `json:"zombies_in_window"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	MaxLatencyMs    float64 `json:"max_latency_ms"`
}

// Collector owns the mutable metrics state. All methods are safe for
// concurrent use.
type Collector struct {
	errorThreshold int
	alertWindow    time.Duration
	now            func() time.Time

	mu               sync.Mutex
	requestsTotal    int64
	durationMsTotal  float64
	durationMsMax    float64
	matchesCreated   int64
	errorsTotal      int64
	errorsWindow     []time.Time
	zombiesTotal     int64
	zombiesWindow    []time.Time
	lastErrorAlertAt time.Time
	lastZombieAlert  time.Time
}

// New creates a collector. errorThreshold is the error count within the
// alert window that trips the critical-error-rate alert.
func New(errorThreshold int, alertWindow time.Duration) *Collector {
	return &Collector{
		errorThreshold: errorThreshold,
		alertWindow:    alertWindow,
		now:            time.Now,
	}
}

// RecordRequest accounts one completed HTTP request. 5xx statuses also count
// as errors.
func (c *Collector) RecordRequest(duration time.Duration, status int) {
	c.mu.Lock()
	ms := float64(duration.Microseconds()) / 1000
	c.requestsTotal++
	c.durationMsTotal += ms
	if ms > c.durationMsMax {
		c.durationMsMax = ms
	}
	c.mu.Unlock()

	if status >= 500 {
		c.RecordError("http_5xx")
	}
}

// RecordMatchCreated increments the created-matches counter.
func (c *Collector) RecordMatchCreated() {
	c.mu.Lock()
	c.matchesCreated++
	c.mu.Unlock()
}

// RecordError accounts an error and fires the critical-error-rate alert when
// the window count crosses the threshold. The alert is edge-triggered with a
// one-window cooldown to avoid log spam under sustained failure.
func (c *Collector) RecordError(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.errorsTotal++
	c.errorsWindow = append(c.errorsWindow, now)
	c.errorsWindow = prune(c.errorsWindow, now, c.alertWindow)

	if len(c.errorsWindow) >= c.errorThreshold && now.Sub(c.lastErrorAlertAt) > c.alertWindow {
		c.lastErrorAlertAt = now
		logger.WithFields(logrus.Fields{
			"errors_last_window": len(c.errorsWindow),
			"window_ms":          c.alertWindow.Milliseconds(),
			"reason":             reason,
		}).Error("alert_critical_error_rate")
	}
}

// RecordZombie accounts a reaped zombie match and fires the server-down
// alert, subject to the same cooldown.
func (c *Collector) RecordZombie(matchID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.zombiesTotal++
	c.zombiesWindow = append(c.zombiesWindow, now)
	c.zombiesWindow = prune(c.zombiesWindow, now, c.alertWindow)

	if now.Sub(c.lastZombieAlert) > c.alertWindow {
		c.lastZombieAlert = now
		logger.WithField("match_id", matchID).Error("alert_server_down")
	}
}

// ZombieRate returns the number of zombies reaped within the alert window.
// The registry compares it against the crash-rate threshold when picking a
// minigame.
func (c *Collector) ZombieRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zombiesWindow = prune(c.zombiesWindow, c.now(), c.alertWindow)
	return len(c.zombiesWindow)
}

// Snapshot returns a copy of the counters with windows freshly pruned.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.errorsWindow = prune(c.errorsWindow, now, c.alertWindow)
	c.zombiesWindow = prune(c.zombiesWindow, now, c.alertWindow)

	var avg float64
	if c.requestsTotal > 0 {
		avg = c.durationMsTotal / float64(c.requestsTotal)
	}
	return Snapshot{
		RequestsTotal:   c.requestsTotal,
		MatchesCreated:  c.matchesCreated,
		ErrorsTotal:     c.errorsTotal,
		ErrorsInWindow:  len(c.errorsWindow),
		ZombiesTotal:    c.zombiesTotal,
		ZombiesInWindow: len(c.zombiesWindow),
		AvgLatencyMs:    avg,
		MaxLatencyMs:    c.durationMsMax,
	}
}

// prune drops timestamps older than the window. Windows store raw timestamps
// and are pruned lazily on every read and write.
func prune(window []time.Time, now time.Time, span time.Duration) []time.Time {
	i := 0
	for i < len(window) && now.Sub(window[i]) > span {
		i++
	}
	return window[i:]
}

// RenderPrometheus produces the exposition-format body for GET /metrics. The
// metric names are a contract with the platform's scrape configs.
func (c *Collector) RenderPrometheus(activeMatches int, servers []allocator.ServerStatus) string {
	snap := c.Snapshot()

	var b strings.Builder
	metric(&b, "matchmaker_matches_active", "gauge", "Active matches in memory", fmt.Sprintf("%d", activeMatches))
	metric(&b, "matchmaker_matches_created_total", "counter", "Matches created", fmt.Sprintf("%d", snap.MatchesCreated))
	metric(&b, "matchmaker_request_duration_ms_sum", "counter", "Total request duration in ms", fmt.Sprintf("%.2f", c.durationSum()))
	metric(&b, "matchmaker_request_duration_ms_count", "counter", "Request count", fmt.Sprintf("%d", snap.RequestsTotal))
	metric(&b, "matchmaker_request_duration_ms_max", "gauge", "Max request duration in ms", fmt.Sprintf("%.2f", snap.MaxLatencyMs))
	metric(&b, "matchmaker_latency_ms_avg", "gauge", "Average request latency in ms", fmt.Sprintf("%.2f", snap.AvgLatencyMs))
	metric(&b, "matchmaker_errors_total", "counter", "Total errors", fmt.Sprintf("%d", snap.ErrorsTotal))
	metric(&b, "matchmaker_errors_window", "gauge", "Errors in alert window", fmt.Sprintf("%d", snap.ErrorsInWindow))
	metric(&b, "matchmaker_zombies_total", "counter", "Total zombie matches", fmt.Sprintf("%d", snap.ZombiesTotal))
	metric(&b, "matchmaker_crash_rate_per_min", "gauge", "Zombie matches in window", fmt.Sprintf("%d", snap.ZombiesInWindow))

	for _, s := range servers {
		label := fmt.Sprintf("endpoint=%q", s.Endpoint)
		labelled(&b, "matchmaker_server_capacity", "gauge", "Server capacity in matches", label, fmt.Sprintf("%d", s.Capacity))
		labelled(&b, "matchmaker_server_active_matches", "gauge", "Active matches per server", label, fmt.Sprintf("%d", s.ActiveMatches))
		labelled(&b, "matchmaker_server_active_players", "gauge", "Active players per server", label, fmt.Sprintf("%d", s.ActivePlayers))
		labelled(&b, "matchmaker_server_load_ratio", "gauge", "Active matches / capacity", label, fmt.Sprintf("%.2f", s.LoadRatio()))
	}
	return b.String()
}

func (c *Collector) durationSum() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.durationMsTotal
}

func metric(b *strings.Builder, name, kind, help, value string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n%s %s\n", name, help, name, kind, name, value)
}

func labelled(b *strings.Builder, name, kind, help, label, value string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n%s{%s} %s\n", name, help, name, kind, name, label, value)
}

// RenderDashboard produces the human-readable summary for GET /dashboard,
// one line per metric and per server.
func (c *Collector) RenderDashboard(buildVersion string, activeMatches int, servers []allocator.ServerStatus) string {
	snap := c.Snapshot()

	lines := []string{
		"Mini-game Platform Dashboard",
		fmt.Sprintf("build_version=%s", buildVersion),
		fmt.Sprintf("matches_active=%d", activeMatches),
		fmt.Sprintf("crash_rate_per_min=%d", snap.ZombiesInWindow),
		fmt.Sprintf("latency_ms_avg=%.2f", snap.AvgLatencyMs),
		fmt.Sprintf("errors_last_window=%d", snap.ErrorsInWindow),
	}
	for _, s := range servers {
		lines = append(lines, fmt.Sprintf("server=%s matches=%d/%d players=%d load=%.2f",
			s.Endpoint, s.ActiveMatches, s.Capacity, s.ActivePlayers, s.LoadRatio()))
	}
	return strings.Join(lines, "\n") + "\n"
}
