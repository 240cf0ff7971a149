package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/miniverse/matchmaker/internal/registry"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with a stable machine-readable
// error code. Internal details never leave over HTTP; they go to the logs.
func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writeText writes a text/plain response
func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

// decodeBody decodes an optional JSON request body. An empty body yields the
// zero value.
func decodeBody(req *http.Request, dst interface{}) error {
	err := json.NewDecoder(req.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// healthResponse is the GET /health body
type healthResponse struct {
	Status       string `json:"status"`
	UptimeS      int64  `json:"uptime_s"`
	Matches      int    `json:"matches"`
	BuildVersion string `json:"build_version"`
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:       "ok",
		UptimeS:      int64(time.Since(r.startedAt).Seconds()),
		Matches:      r.registry.Count(),
		BuildVersion: r.buildVersion,
	})
}

func (r *Router) handleGetConfig(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.policy.Get())
}

func (r *Router) handleCreateMatch(w http.ResponseWriter, req *http.Request) {
	var create registry.CreateRequest
	if err := decodeBody(req, &create); err != nil {
		logger.WithError(err).Warn("matchmaker_error")
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	res, err := r.registry.Create(create)
	switch {
	case errors.Is(err, registry.ErrCapacity), errors.Is(err, registry.ErrPoolExhausted):
		writeError(w, http.StatusServiceUnavailable, "allocation_failed")
	case err != nil:
		logger.WithError(err).Error("matchmaker_error")
		writeError(w, http.StatusInternalServerError, "server_error")
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (r *Router) handleListMatches(w http.ResponseWriter, req *http.Request) {
	minigameID := req.URL.Query().Get("minigame_id")
	writeJSON(w, http.StatusOK, r.registry.ListActive(minigameID))
}

func (r *Router) handleJoinMatch(w http.ResponseWriter, req *http.Request) {
	res, err := r.registry.Join(req.PathValue("id"))
	switch {
	case errors.Is(err, registry.ErrMatchNotFound):
		writeError(w, http.StatusNotFound, "match_not_found")
	case errors.Is(err, registry.ErrMatchEnded):
		writeError(w, http.StatusGone, "match_ended")
	case errors.Is(err, registry.ErrMatchFull):
		writeError(w, http.StatusConflict, "match_full")
	case err != nil:
		logger.WithError(err).Error("matchmaker_error")
		writeError(w, http.StatusInternalServerError, "server_error")
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// endRequest is the POST /matches/{id}/end body
type endRequest struct {
	Reason string `json:"reason"`
}

func (r *Router) handleEndMatch(w http.ResponseWriter, req *http.Request) {
	var body endRequest
	if err := decodeBody(req, &body); err != nil {
		logger.WithError(err).Warn("matchmaker_error")
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	err := r.registry.End(req.PathValue("id"), body.Reason)
	switch {
	case errors.Is(err, registry.ErrMatchNotFound):
		writeError(w, http.StatusNotFound, "match_not_found")
	case err != nil:
		logger.WithError(err).Error("matchmaker_error")
		writeError(w, http.StatusInternalServerError, "server_error")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (r *Router) handleHeartbeat(w http.ResponseWriter, req *http.Request) {
	err := r.registry.Heartbeat(req.PathValue("id"))
	switch {
	case errors.Is(err, registry.ErrMatchNotFound):
		writeError(w, http.StatusNotFound, "match_not_found")
	case errors.Is(err, registry.ErrMatchEnded):
		writeError(w, http.StatusGone, "match_ended")
	case err != nil:
		logger.WithError(err).Error("matchmaker_error")
		writeError(w, http.StatusInternalServerError, "server_error")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// verifyRequest is the POST /tokens/verify body
type verifyRequest struct {
	Token string `json:"token"`
}

func (r *Router) handleVerifyToken(w http.ResponseWriter, req *http.Request) {
	var body verifyRequest
	if err := decodeBody(req, &body); err != nil {
		logger.WithError(err).Warn("matchmaker_error")
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	payload, err := r.codec.Verify(body.Token)
	if err != nil {
		logger.WithError(err).Debug("token_rejected")
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleMetrics(w http.ResponseWriter, req *http.Request) {
	body := r.collector.RenderPrometheus(r.registry.ActiveCount(), r.backend.Snapshot())
	writeText(w, http.StatusOK, body)
}

func (r *Router) handleDashboard(w http.ResponseWriter, req *http.Request) {
	body := r.collector.RenderDashboard(r.buildVersion, r.registry.ActiveCount(), r.backend.Snapshot())
	writeText(w, http.StatusOK, body)
}
