package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/miniverse/matchmaker/internal/allocator"
	"github.com/miniverse/matchmaker/internal/config"
	"github.com/miniverse/matchmaker/internal/metrics"
	"github.com/miniverse/matchmaker/internal/registry"
	"github.com/miniverse/matchmaker/internal/remoteconfig"
	"github.com/miniverse/matchmaker/internal/token"
)

var logger = logrus.WithFields(logrus.Fields{
	"service":   "matchmaker",
	"component": "api",
})

// Router holds the HTTP routes and dependencies
type Router struct {
	mux          *http.ServeMux
	registry     *registry.Registry
	backend      allocator.Backend
	codec        *token.Codec
	policy       *remoteconfig.Cache
	collector    *metrics.Collector
	limiter      *RateLimiter
	wsHub        *WebSocketHub
	buildVersion string
	startedAt    time.Time
	done         chan struct{}
}

// NewRouter creates a new HTTP router
func NewRouter(reg *registry.Registry, backend allocator.Backend, codec *token.Codec, policy *remoteconfig.Cache, collector *metrics.Collector, rl config.RateLimitConfig, buildVersion string) *Router {
	r := &Router{
		mux:          http.NewServeMux(),
		registry:     reg,
		backend:      backend,
		codec:        codec,
		policy:       policy,
		collector:    collector,
		limiter:      NewRateLimiter(rl.MaxRequests, rl.Window),
		wsHub:        NewWebSocketHub(),
		buildVersion: buildVersion,
		startedAt:    time.Now(),
		done:         make(chan struct{}),
	}

	r.mux.HandleFunc("GET /health", r.handleHealth)
	r.mux.HandleFunc("GET /config", r.handleGetConfig)

	r.mux.HandleFunc("POST /matches", r.limited(r.handleCreateMatch))
	r.mux.HandleFunc("GET /matches", r.handleListMatches)
	r.mux.HandleFunc("POST /matches/{id}/join", r.limited(r.handleJoinMatch))
	r.mux.HandleFunc("POST /matches/{id}/end", r.limited(r.handleEndMatch))
	r.mux.HandleFunc("POST /matches/{id}/heartbeat", r.limited(r.handleHeartbeat))

	r.mux.HandleFunc("POST /tokens/verify", r.limited(r.handleVerifyToken))

	r.mux.HandleFunc("GET /metrics", r.handleMetrics)
	r.mux.HandleFunc("GET /dashboard", r.handleDashboard)

	r.mux.HandleFunc("GET /ws", r.handleWebSocket)

	return r
}

// ServeHTTP implements http.Handler: it times the request, recovers handler
// panics into a 500 server_error, and emits the structured request log.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	defer func() {
		if err := recover(); err != nil {
			logger.WithFields(logrus.Fields{
				"method": req.Method,
				"path":   req.URL.Path,
				"panic":  err,
			}).Error("matchmaker_error")
			if !rec.wrote {
				writeError(rec, http.StatusInternalServerError, "server_error")
			}
		}
		duration := time.Since(start)
		r.collector.RecordRequest(duration, rec.status)
		logger.WithFields(logrus.Fields{
			"method":      req.Method,
			"path":        req.URL.Path,
			"status":      rec.status,
			"duration_ms": float64(duration.Microseconds()) / 1000,
			"client":      clientAddr(req),
		}).Info("http_request")
	}()

	r.mux.ServeHTTP(rec, req)
}

// Start launches the router's background work: the WebSocket hub, the
// registry event fanout, and the rate limiter's idle-client pruning.
func (r *Router) Start() {
	go r.wsHub.Run()
	r.limiter.StartPruning(r.done)

	go func() {
		for event := range r.registry.Events() {
			r.wsHub.Broadcast(event)
		}
	}()
}

// Stop halts background pruning.
func (r *Router) Stop() {
	close(r.done)
}

// limited wraps a mutating handler with the per-client sliding-window rate
// limit. Over-limit requests get a 429 without the handler ever running.
func (r *Router) limited(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		client := clientAddr(req)
		if !r.limiter.Allow(client) {
			logger.WithFields(logrus.Fields{
				"client": client,
				"path":   req.URL.Path,
			}).Warn("rate_limited")
			writeError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
		h(w, req)
	}
}

// clientAddr extracts the client address for rate limiting and logs,
// checking proxy headers first.
func clientAddr(req *http.Request) string {
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, ok := strings.Cut(xff, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wrote {
		s.status = code
		s.wrote = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wrote = true
	return s.ResponseWriter.Write(b)
}

// Hijack lets the WebSocket upgrade take over the connection.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}
