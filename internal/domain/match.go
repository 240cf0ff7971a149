package domain

import "time"

// Match status values
const (
	StatusWaiting = "waiting"
	StatusActive  = "active"
	StatusEnded   = "ended"
)

// Match represents one game session tracked by the matchmaker, bound to one
// allocated endpoint. Once Status is "ended" the record is inert: nothing
// mutates it again except its eventual removal from the registry.
type Match struct {
	MatchID       string     `json:"match_id"`
	MinigameID    string     `json:"minigame_id"`
	Status        string     `json:"status"`
	MaxPlayers    int        `json:"max_players"`
	Players       int        `json:"players"`
	Endpoint      string     `json:"endpoint"`
	CreatedAt     time.Time  `json:"created_at"`
	LastHeartbeat time.Time  `json:"-"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	EndReason     string     `json:"end_reason,omitempty"`
}

// MatchSummary is the public listing shape for GET /matches. Join tokens are
// never part of a listing.
type MatchSummary struct {
	MatchID    string `json:"match_id"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"max_players"`
	Status     string `json:"status"`
	MinigameID string `json:"minigame_id"`
	Endpoint   string `json:"endpoint"`
}

// Summary converts a match to its listing shape.
func (m *Match) Summary() MatchSummary {
	return MatchSummary{
		MatchID:    m.MatchID,
		Players:    m.Players,
		MaxPlayers: m.MaxPlayers,
		Status:     m.Status,
		MinigameID: m.MinigameID,
		Endpoint:   m.Endpoint,
	}
}
