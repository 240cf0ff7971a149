package allocator

import (
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

const defaultCapacity = 4

var poolLogger = logrus.WithFields(logrus.Fields{
	"service":   "matchmaker",
	"component": "pool",
})

type poolServer struct {
	endpoint      string
	capacity      int
	activeMatches int
	activePlayers int
}

// Pool is the static server pool backend. It tracks match and player counts
// per endpoint and always hands out the least-loaded server.
type Pool struct {
	mu      sync.Mutex
	servers []*poolServer
}

// NewPool parses an "endpoint=capacity" list separated by commas or
// semicolons, e.g. "10.0.0.1:7770=4;10.0.0.2:7770=8". Entries without a
// capacity, or with an unparsable one, get the default of 4. An empty or
// unusable list falls back to a single default-capacity entry at
// fallbackEndpoint.
func NewPool(raw, fallbackEndpoint string) *Pool {
	p := &Pool{}
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' }) {
		endpoint, capText, _ := strings.Cut(strings.TrimSpace(part), "=")
		endpoint = strings.TrimSpace(endpoint)
		if endpoint == "" {
			continue
		}
		capacity := defaultCapacity
		if n, err := strconv.Atoi(strings.TrimSpace(capText)); err == nil && n > 0 {
			capacity = n
		}
		p.servers = append(p.servers, &poolServer{endpoint: endpoint, capacity: capacity})
	}

	if len(p.servers) == 0 {
		p.servers = append(p.servers, &poolServer{endpoint: fallbackEndpoint, capacity: defaultCapacity})
	}

	for _, s := range p.servers {
		poolLogger.WithFields(logrus.Fields{
			"endpoint": s.endpoint,
			"capacity": s.capacity,
		}).Info("pool_server_registered")
	}
	return p
}

// Allocate picks the server with the lowest activeMatches/capacity ratio,
// ties broken by absolute activeMatches. Returns false without mutating
// anything when every server is at capacity.
func (p *Pool) Allocate(matchID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *poolServer
	for _, s := range p.servers {
		if s.activeMatches >= s.capacity {
			continue
		}
		if best == nil || less(s, best) {
			best = s
		}
	}
	if best == nil {
		return "", false
	}

	best.activeMatches++
	return best.endpoint, true
}

func less(a, b *poolServer) bool {
	la := float64(a.activeMatches) / float64(a.capacity)
	lb := float64(b.activeMatches) / float64(b.capacity)
	if la != lb {
		return la < lb
	}
	return a.activeMatches < b.activeMatches
}

// AddPlayer charges one player against the endpoint.
func (p *Pool) AddPlayer(endpoint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s := p.find(endpoint); s != nil {
		s.activePlayers++
	}
}

// Release returns a match and its players to the endpoint's budget, floored
// at zero.
func (p *Pool) Release(matchID, endpoint string, players int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.find(endpoint)
	if s == nil {
		return
	}
	s.activeMatches = max(0, s.activeMatches-1)
	s.activePlayers = max(0, s.activePlayers-players)
}

func (p *Pool) find(endpoint string) *poolServer {
	for _, s := range p.servers {
		if s.endpoint == endpoint {
			return s
		}
	}
	return nil
}

// Snapshot returns a copy of the per-server counters.
func (p *Pool) Snapshot() []ServerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ServerStatus, 0, len(p.servers))
	for _, s := range p.servers {
		out = append(out, ServerStatus{
			Endpoint:      s.endpoint,
			Capacity:      s.capacity,
			ActiveMatches: s.activeMatches,
			ActivePlayers: s.activePlayers,
		})
	}
	return out
}
