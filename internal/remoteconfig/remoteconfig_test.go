package remoteconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "remote_config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestGetReadsFile(t *testing.T) {
	path := writePolicy(t, `{
		"minigame_pool": ["arena_v1", "race_v1"],
		"blocked_minigames": ["race_v1"],
		"fallback_minigame_id": "arena_v1",
		"max_players": 12,
		"match_duration_s": 300
	}`)

	c := NewCache(path, 5*time.Second)
	policy := c.Get()

	assert.Equal(t, []string{"arena_v1", "race_v1"}, policy.MinigamePool)
	assert.Equal(t, []string{"race_v1"}, policy.BlockedMinigames)
	assert.Equal(t, "arena_v1", policy.FallbackMinigameID)
	assert.Equal(t, 12, policy.MaxPlayers)
	assert.Equal(t, 300, policy.MatchDurationS)
}

func TestGetMissingFileYieldsDefaults(t *testing.T) {
	c := NewCache("/nonexistent/remote_config.json", 5*time.Second)
	assert.Equal(t, Defaults(), c.Get())
}

func TestGetBadJSONYieldsDefaults(t *testing.T) {
	path := writePolicy(t, `{not json`)
	c := NewCache(path, 5*time.Second)
	assert.Equal(t, Defaults(), c.Get())
}

func TestPartialOverride(t *testing.T) {
	path := writePolicy(t, `{"max_players": 16}`)
	c := NewCache(path, 5*time.Second)
	policy := c.Get()

	assert.Equal(t, 16, policy.MaxPlayers)
	assert.Equal(t, Defaults().MinigamePool, policy.MinigamePool)
	assert.Equal(t, "stub_v1", policy.FallbackMinigameID)
	assert.Equal(t, 600, policy.MatchDurationS)
}

func TestCacheTTL(t *testing.T) {
	path := writePolicy(t, `{"max_players": 10}`)
	c := NewCache(path, 5*time.Second)

	clock := time.Now()
	c.now = func() time.Time { return clock }

	assert.Equal(t, 10, c.Get().MaxPlayers)

	// A file change inside the TTL is not observed.
	require.NoError(t, os.WriteFile(path, []byte(`{"max_players": 99}`), 0644))
	clock = clock.Add(2 * time.Second)
	assert.Equal(t, 10, c.Get().MaxPlayers)

	// Past the TTL the new content is picked up.
	clock = clock.Add(4 * time.Second)
	assert.Equal(t, 99, c.Get().MaxPlayers)
}

func TestUnblockedPool(t *testing.T) {
	p := Policy{
		MinigamePool:     []string{"a", "b", "c"},
		BlockedMinigames: []string{"b"},
	}
	assert.Equal(t, []string{"a", "c"}, p.UnblockedPool())
	assert.True(t, p.Blocked("b"))
	assert.False(t, p.Blocked("a"))
}
