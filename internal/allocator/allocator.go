// Package allocator provides the two game-server allocation backends: a
// static pool of pre-existing endpoints, and a host supervisor that spawns
// local server processes per match. Exactly one backend is active at runtime.
package allocator

// Backend allocates game-server capacity for matches.
type Backend interface {
	// Allocate reserves capacity for a match and returns its endpoint.
	// A failed allocation leaves the backend state untouched.
	Allocate(matchID string) (endpoint string, ok bool)

	// AddPlayer charges one player against the endpoint's counters.
	AddPlayer(endpoint string)

	// Release frees the reservation for a match and returns its players to
	// the endpoint's budget. Releasing an unknown match is a no-op.
	Release(matchID, endpoint string, players int)

	// Snapshot returns per-server state for metrics and the dashboard.
	Snapshot() []ServerStatus
}

// ServerStatus is a point-in-time view of one allocation target.
type ServerStatus struct {
	Endpoint      string `json:"endpoint"`
	Capacity      int    `json:"capacity"`
	ActiveMatches int    `json:"active_matches"`
	ActivePlayers int    `json:"active_players"`
}

// LoadRatio returns active matches over capacity, or 1 for zero capacity.
func (s ServerStatus) LoadRatio() float64 {
	if s.Capacity <= 0 {
		return 1
	}
	return float64(s.ActiveMatches) / float64(s.Capacity)
}
