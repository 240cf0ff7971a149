// Package remoteconfig reads the minigame policy file pushed by the platform
// team. Reads are cached for a short TTL so request handlers can call Get on
// every match creation without hammering the filesystem.
package remoteconfig

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var logger = logrus.WithFields(logrus.Fields{
	"service":   "matchmaker",
	"component": "remoteconfig",
})

// Policy is the effective minigame policy. Missing or invalid fields in the
// file fall back to their default independently.
type Policy struct {
	MinigamePool       []string `json:"minigame_pool"`
	BlockedMinigames   []string `json:"blocked_minigames"`
	FallbackMinigameID string   `json:"fallback_minigame_id"`
	MaxPlayers         int      `json:"max_players"`
	MatchDurationS     int      `json:"match_duration_s"`
}

// Defaults returns the hard-coded policy used when the file is absent or
// unreadable.
func Defaults() Policy {
	return Policy{
		MinigamePool:       []string{"stub_v1", "arena_v1", "race_v1", "coin_rush_v1"},
		BlockedMinigames:   nil,
		FallbackMinigameID: "stub_v1",
		MaxPlayers:         8,
		MatchDurationS:     600,
	}
}

// Cache reads the policy file with time-based expiry. There is no explicit
// invalidation; a stale read simply waits out the TTL.
type Cache struct {
	path string
	ttl  time.Duration
	now  func() time.Time

	mu     sync.Mutex
	cached Policy
	readAt time.Time
	primed bool
}

// NewCache creates a policy cache over the given file path. An empty path
// always yields defaults.
func NewCache(path string, ttl time.Duration) *Cache {
	return &Cache{path: path, ttl: ttl, now: time.Now}
}

// Get returns the cached policy, re-reading the file when the TTL has lapsed.
// It never fails: any read or parse problem yields the defaults.
func (c *Cache) Get() Policy {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.primed && now.Sub(c.readAt) < c.ttl {
		return c.cached
	}

	c.cached = c.load()
	c.readAt = now
	c.primed = true
	return c.cached
}

func (c *Cache) load() Policy {
	policy := Defaults()
	if c.path == "" {
		return policy
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		logger.WithError(err).WithField("path", c.path).Warn("remote_config_read_failed")
		return policy
	}

	var file struct {
		MinigamePool       []string `json:"minigame_pool"`
		BlockedMinigames   []string `json:"blocked_minigames"`
		FallbackMinigameID string   `json:"fallback_minigame_id"`
		MaxPlayers         int      `json:"max_players"`
		MatchDurationS     int      `json:"match_duration_s"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		logger.WithError(err).WithField("path", c.path).Warn("remote_config_parse_failed")
		return policy
	}

	// Partial overrides: each field falls back on its own.
	if len(file.MinigamePool) > 0 {
		policy.MinigamePool = file.MinigamePool
	}
	if file.BlockedMinigames != nil {
		policy.BlockedMinigames = file.BlockedMinigames
	}
	if file.FallbackMinigameID != "" {
		policy.FallbackMinigameID = file.FallbackMinigameID
	}
	if file.MaxPlayers > 0 {
		policy.MaxPlayers = file.MaxPlayers
	}
	if file.MatchDurationS > 0 {
		policy.MatchDurationS = file.MatchDurationS
	}
	return policy
}

// Blocked reports whether a minigame id is blocked by the policy.
func (p Policy) Blocked(id string) bool {
	for _, blocked := range p.BlockedMinigames {
		if blocked == id {
			return true
		}
	}
	return false
}

// UnblockedPool returns the pool with blocked ids removed.
func (p Policy) UnblockedPool() []string {
	pool := make([]string, 0, len(p.MinigamePool))
	for _, id := range p.MinigamePool {
		if !p.Blocked(id) {
			pool = append(pool, id)
		}
	}
	return pool
}
