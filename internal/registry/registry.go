// Package registry owns the in-memory match map and its lifecycle: create,
// join, heartbeat, end, and the background sweep that reaps matches whose
// server stopped heartbeating.
package registry

import (
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/miniverse/matchmaker/internal/allocator"
	"github.com/miniverse/matchmaker/internal/config"
	"github.com/miniverse/matchmaker/internal/domain"
	"github.com/miniverse/matchmaker/internal/metrics"
	"github.com/miniverse/matchmaker/internal/remoteconfig"
	"github.com/miniverse/matchmaker/internal/token"
)

var logger = logrus.WithFields(logrus.Fields{
	"service":   "matchmaker",
	"component": "registry",
})

var (
	// ErrCapacity means the global active-match cap is reached.
	ErrCapacity = errors.New("match capacity reached")
	// ErrPoolExhausted means the allocation backend had no free server.
	ErrPoolExhausted = errors.New("server pool exhausted")
	ErrMatchNotFound = errors.New("match not found")
	ErrMatchEnded    = errors.New("match already ended")
	ErrMatchFull     = errors.New("match full")
)

// CreateRequest are the caller-supplied match parameters. Zero values defer
// to the remote policy.
type CreateRequest struct {
	MinigameID string `json:"minigame_id"`
	MaxPlayers int    `json:"max_players"`
}

// CreateResult is returned from a successful create.
type CreateResult struct {
	MatchID   string `json:"match_id"`
	Endpoint  string `json:"endpoint"`
	JoinToken string `json:"join_token"`
	Status    string `json:"status"`
}

// JoinResult is returned from a successful join.
type JoinResult struct {
	Endpoint  string `json:"endpoint"`
	JoinToken string `json:"join_token"`
}

// Registry is the match registry and lifecycle state machine. All shared
// state is guarded by a single mutex; the sweep goroutine takes the same
// lock, so no handler ever observes a half-applied transition.
type Registry struct {
	cfg     config.RegistryConfig
	backend allocator.Backend
	codec   *token.Codec
	policy  *remoteconfig.Cache
	metrics *metrics.Collector

	tokenTTL time.Duration
	now      func() time.Time

	mu      sync.Mutex
	matches map[string]*domain.Match

	events chan domain.Event
	done   chan struct{}
}

// New creates a registry. Call Start to launch the zombie sweeper.
func New(cfg config.RegistryConfig, tokenTTL time.Duration, backend allocator.Backend, codec *token.Codec, policy *remoteconfig.Cache, collector *metrics.Collector) *Registry {
	return &Registry{
		cfg:      cfg,
		backend:  backend,
		codec:    codec,
		policy:   policy,
		metrics:  collector,
		tokenTTL: tokenTTL,
		now:      time.Now,
		matches:  make(map[string]*domain.Match),
		events:   make(chan domain.Event, 256),
		done:     make(chan struct{}),
	}
}

// Events returns the lifecycle event channel for WebSocket broadcasting.
func (r *Registry) Events() <-chan domain.Event {
	return r.events
}

// Start launches the background zombie sweeper.
func (r *Registry) Start() {
	go func() {
		ticker := time.NewTicker(r.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Sweep()
			case <-r.done:
				return
			}
		}
	}()
}

// Stop halts the sweeper.
func (r *Registry) Stop() {
	close(r.done)
}

func generateMatchID() string {
	return "m_" + xid.New().String()
}

func generatePlayerID() string {
	return "p_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Create allocates a server and registers a new match in waiting state,
// returning a host join token. The global cap is checked before the backend
// so a full registry never consumes pool capacity.
func (r *Registry) Create(req CreateRequest) (*CreateResult, error) {
	policy := r.policy.Get()
	minigame := r.resolveMinigame(req.MinigameID, policy)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeCountLocked() >= r.cfg.MaxMatches {
		logger.WithFields(logrus.Fields{
			"reason":      "capacity",
			"max_matches": r.cfg.MaxMatches,
		}).Warn("match_allocation_failed")
		return nil, ErrCapacity
	}

	matchID := generateMatchID()
	endpoint, ok := r.backend.Allocate(matchID)
	if !ok {
		logger.WithField("reason", "server_pool_exhausted").Warn("match_allocation_failed")
		return nil, ErrPoolExhausted
	}

	maxPlayers := req.MaxPlayers
	if maxPlayers <= 0 {
		maxPlayers = policy.MaxPlayers
	}

	now := r.now()
	m := &domain.Match{
		MatchID:       matchID,
		MinigameID:    minigame,
		Status:        domain.StatusWaiting,
		MaxPlayers:    maxPlayers,
		Endpoint:      endpoint,
		CreatedAt:     now,
		LastHeartbeat: now,
	}
	r.matches[matchID] = m
	r.metrics.RecordMatchCreated()

	hostToken, err := r.codec.Sign(token.Payload{
		MatchID:  matchID,
		PlayerID: "host",
		Expiry:   now.Add(r.tokenTTL).UnixMilli(),
	})
	if err != nil {
		// Signing only fails on a marshalling defect; undo the allocation.
		delete(r.matches, matchID)
		r.backend.Release(matchID, endpoint, 0)
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"match_id":    matchID,
		"minigame_id": minigame,
		"endpoint":    endpoint,
	}).Info("match_created")
	r.emit(domain.Event{
		Type:      domain.EventMatchCreated,
		MatchID:   matchID,
		Timestamp: now,
		Data: domain.MatchCreatedEvent{
			MinigameID: minigame,
			Endpoint:   endpoint,
			MaxPlayers: maxPlayers,
		},
	})

	return &CreateResult{
		MatchID:   matchID,
		Endpoint:  endpoint,
		JoinToken: hostToken,
		Status:    m.Status,
	}, nil
}

// resolveMinigame picks the minigame for a new match. A crash rate at or
// above the threshold forces the fallback regardless of the request, so a
// misbehaving minigame stops receiving players. A blocked explicit request
// is substituted with a redraw from the unblocked pool, then the fallback.
func (r *Registry) resolveMinigame(requested string, policy remoteconfig.Policy) string {
	if r.metrics.ZombieRate() >= r.cfg.CrashThreshold {
		logger.WithFields(logrus.Fields{
			"requested": requested,
			"fallback":  policy.FallbackMinigameID,
		}).Warn("minigame_fallback_forced")
		return policy.FallbackMinigameID
	}

	if requested != "" && !policy.Blocked(requested) {
		return requested
	}

	pool := policy.UnblockedPool()
	if len(pool) == 0 {
		return policy.FallbackMinigameID
	}
	return pool[rand.IntN(len(pool))]
}

// Join adds a player to a match and issues a participant join token.
func (r *Registry) Join(matchID string) (*JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.matches[matchID]
	if !ok {
		return nil, ErrMatchNotFound
	}
	if m.Status == domain.StatusEnded {
		return nil, ErrMatchEnded
	}
	if m.Players >= m.MaxPlayers {
		return nil, ErrMatchFull
	}

	playerID := generatePlayerID()
	m.Players++
	r.backend.AddPlayer(m.Endpoint)

	now := r.now()
	joinToken, err := r.codec.Sign(token.Payload{
		MatchID:  matchID,
		PlayerID: playerID,
		Expiry:   now.Add(r.tokenTTL).UnixMilli(),
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"match_id":  matchID,
		"player_id": playerID,
	}).Info("match_join")
	r.emit(domain.Event{
		Type:      domain.EventMatchJoin,
		MatchID:   matchID,
		Timestamp: now,
		Data:      domain.MatchJoinEvent{PlayerID: playerID, Players: m.Players},
	})
	return &JoinResult{Endpoint: m.Endpoint, JoinToken: joinToken}, nil
}

// Heartbeat refreshes a match's liveness and promotes waiting to active.
func (r *Registry) Heartbeat(matchID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.matches[matchID]
	if !ok {
		return ErrMatchNotFound
	}
	if m.Status == domain.StatusEnded {
		return ErrMatchEnded
	}

	now := r.now()
	m.LastHeartbeat = now
	if m.Status == domain.StatusWaiting {
		m.Status = domain.StatusActive
	}
	r.emit(domain.Event{Type: domain.EventMatchHeartbeat, MatchID: matchID, Timestamp: now})
	return nil
}

// End marks a match ended and releases its allocation. Ending an already
// ended match is a no-op, so an explicit end racing the sweep never
// double-releases.
func (r *Registry) End(matchID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.matches[matchID]
	if !ok {
		return ErrMatchNotFound
	}
	if m.Status == domain.StatusEnded {
		return nil
	}

	if reason == "" {
		reason = "unknown"
	}
	now := r.now()
	m.Status = domain.StatusEnded
	m.EndedAt = &now
	m.EndReason = reason
	r.backend.Release(matchID, m.Endpoint, m.Players)

	logger.WithFields(logrus.Fields{
		"match_id": matchID,
		"reason":   reason,
	}).Info("match_ended")
	r.emit(domain.Event{
		Type:      domain.EventMatchEnded,
		MatchID:   matchID,
		Timestamp: now,
		Data:      domain.MatchEndedEvent{Reason: reason},
	})
	return nil
}

// Sweep reaps zombies: non-ended matches whose heartbeat age exceeds the
// TTL are released and deleted outright. Explicitly ended matches stay
// listed for auditing until the retention period lapses, then they are
// garbage-collected without touching the backend again.
func (r *Registry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for matchID, m := range r.matches {
		if m.Status == domain.StatusEnded {
			if m.EndedAt != nil && now.Sub(*m.EndedAt) > r.cfg.EndedRetention {
				delete(r.matches, matchID)
			}
			continue
		}

		age := now.Sub(m.LastHeartbeat)
		if age <= r.cfg.HeartbeatTTL {
			continue
		}

		logger.WithFields(logrus.Fields{
			"match_id": matchID,
			"age_ms":   age.Milliseconds(),
		}).Warn("match_zombie")
		r.metrics.RecordZombie(matchID)
		r.backend.Release(matchID, m.Endpoint, m.Players)
		delete(r.matches, matchID)
		r.emit(domain.Event{
			Type:      domain.EventMatchZombie,
			MatchID:   matchID,
			Timestamp: now,
			Data:      domain.MatchZombieEvent{AgeMs: age.Milliseconds()},
		})
	}
}

// ListActive returns non-ended matches, optionally filtered by minigame id.
func (r *Registry) ListActive(minigameID string) []domain.MatchSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := make([]domain.MatchSummary, 0, len(r.matches))
	for _, m := range r.matches {
		if m.Status == domain.StatusEnded {
			continue
		}
		if minigameID != "" && m.MinigameID != minigameID {
			continue
		}
		list = append(list, m.Summary())
	}
	return list
}

// Count returns the number of matches held in memory, ended included.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.matches)
}

// ActiveCount returns the number of non-ended matches.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeCountLocked()
}

func (r *Registry) activeCountLocked() int {
	active := 0
	for _, m := range r.matches {
		if m.Status != domain.StatusEnded {
			active++
		}
	}
	return active
}

// emit broadcasts an event without ever blocking a handler.
func (r *Registry) emit(ev domain.Event) {
	select {
	case r.events <- ev:
	default:
	}
}
