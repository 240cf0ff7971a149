package domain

import "time"

// Event types for WebSocket notifications
const (
	EventMatchCreated   = "match_created"
	EventMatchJoin      = "match_join"
	EventMatchHeartbeat = "match_heartbeat"
	EventMatchEnded     = "match_ended"
	EventMatchZombie    = "match_zombie"
)

// Event represents a real-time lifecycle event for WebSocket broadcast
type Event struct {
	Type      string      `json:"event"`
	MatchID   string      `json:"match_id"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// MatchCreatedEvent is sent when a match is allocated
type MatchCreatedEvent struct {
	MinigameID string `json:"minigame_id"`
	Endpoint   string `json:"endpoint"`
	MaxPlayers int    `json:"max_players"`
}

// MatchJoinEvent is sent when a player joins a match
type MatchJoinEvent struct {
	PlayerID string `json:"player_id"`
	Players  int    `json:"players"`
}

// MatchEndedEvent is sent when a match ends explicitly
type MatchEndedEvent struct {
	Reason string `json:"reason"`
}

// MatchZombieEvent is sent when the sweep reaps an abandoned match
type MatchZombieEvent struct {
	AgeMs int64 `json:"age_ms"`
}
