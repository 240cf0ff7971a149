package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miniverse/matchmaker/internal/allocator"
)

func TestRecordRequestCounters(t *testing.T) {
	c := New(5, time.Minute)
	c.RecordRequest(10*time.Millisecond, 200)
	c.RecordRequest(30*time.Millisecond, 200)

	snap := c.Snapshot()
	assert.Equal(t, int64(2), snap.RequestsTotal)
	assert.InDelta(t, 20, snap.AvgLatencyMs, 0.1)
	assert.InDelta(t, 30, snap.MaxLatencyMs, 0.1)
	assert.Equal(t, int64(0), snap.ErrorsTotal)
}

func TestRecord5xxCountsAsError(t *testing.T) {
	c := New(5, time.Minute)
	c.RecordRequest(time.Millisecond, 500)

	snap := c.Snapshot()
	assert.Equal(t, int64(1), snap.ErrorsTotal)
	assert.Equal(t, 1, snap.ErrorsInWindow)
}

func TestWindowPruning(t *testing.T) {
	c := New(5, time.Minute)
	clock := time.Now()
	c.now = func() time.Time { return clock }

	c.RecordError("a")
	c.RecordError("b")
	assert.Equal(t, 2, c.Snapshot().ErrorsInWindow)

	clock = clock.Add(2 * time.Minute)
	snap := c.Snapshot()
	assert.Equal(t, 0, snap.ErrorsInWindow)
	assert.Equal(t, int64(2), snap.ErrorsTotal, "totals are monotonic")
}

func TestZombieRate(t *testing.T) {
	c := New(5, time.Minute)
	clock := time.Now()
	c.now = func() time.Time { return clock }

	c.RecordZombie("m_1")
	c.RecordZombie("m_2")
	assert.Equal(t, 2, c.ZombieRate())

	clock = clock.Add(90 * time.Second)
	assert.Equal(t, 0, c.ZombieRate())
	assert.Equal(t, int64(2), c.Snapshot().ZombiesTotal)
}

func TestRenderPrometheus(t *testing.T) {
	c := New(5, time.Minute)
	c.RecordMatchCreated()
	c.RecordRequest(5*time.Millisecond, 200)

	servers := []allocator.ServerStatus{
		{Endpoint: "127.0.0.1:7770", Capacity: 4, ActiveMatches: 1, ActivePlayers: 3},
	}
	body := c.RenderPrometheus(1, servers)

	assert.Contains(t, body, "matchmaker_matches_active 1\n")
	assert.Contains(t, body, "matchmaker_matches_created_total 1\n")
	assert.Contains(t, body, "# TYPE matchmaker_zombies_total counter\n")
	assert.Contains(t, body, `matchmaker_server_capacity{endpoint="127.0.0.1:7770"} 4`)
	assert.Contains(t, body, `matchmaker_server_load_ratio{endpoint="127.0.0.1:7770"} 0.25`)
}

func TestRenderDashboard(t *testing.T) {
	c := New(5, time.Minute)
	servers := []allocator.ServerStatus{
		{Endpoint: "127.0.0.1:7770", Capacity: 4, ActiveMatches: 2, ActivePlayers: 5},
	}
	body := c.RenderDashboard("abc123", 2, servers)

	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")
	require.GreaterOrEqual(t, len(lines), 7)
	assert.Equal(t, "Mini-game Platform Dashboard", lines[0])
	assert.Contains(t, body, "build_version=abc123")
	assert.Contains(t, body, "matches_active=2")
	assert.Contains(t, body, "server=127.0.0.1:7770 matches=2/4 players=5 load=0.50")
}
