package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miniverse/matchmaker/internal/allocator"
	"github.com/miniverse/matchmaker/internal/config"
	"github.com/miniverse/matchmaker/internal/metrics"
	"github.com/miniverse/matchmaker/internal/registry"
	"github.com/miniverse/matchmaker/internal/remoteconfig"
	"github.com/miniverse/matchmaker/internal/token"
)

type fixture struct {
	router *Router
	reg    *registry.Registry
	codec  *token.Codec
}

func newFixture(t *testing.T, regCfg config.RegistryConfig, rl config.RateLimitConfig) *fixture {
	t.Helper()
	if regCfg.HeartbeatTTL == 0 {
		regCfg.HeartbeatTTL = 60 * time.Second
	}
	if regCfg.SweepInterval == 0 {
		regCfg.SweepInterval = 5 * time.Second
	}
	if regCfg.MaxMatches == 0 {
		regCfg.MaxMatches = 200
	}
	if regCfg.EndedRetention == 0 {
		regCfg.EndedRetention = 300 * time.Second
	}
	if regCfg.CrashThreshold == 0 {
		regCfg.CrashThreshold = 3
	}
	if rl.MaxRequests == 0 {
		rl.MaxRequests = 1000
	}
	if rl.Window == 0 {
		rl.Window = time.Second
	}

	backend := allocator.NewPool("127.0.0.1:7770=8", "127.0.0.1:7770")
	codec := token.NewCodec("test_secret")
	policy := remoteconfig.NewCache("", 5*time.Second)
	collector := metrics.New(5, time.Minute)
	reg := registry.New(regCfg, 300*time.Second, backend, codec, policy, collector)
	router := NewRouter(reg, backend, codec, policy, collector, rl, "test")
	return &fixture{router: router, reg: reg, codec: codec}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var decoded map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		json.Unmarshal(w.Body.Bytes(), &decoded)
	}
	return w, decoded
}

func TestHealth(t *testing.T) {
	f := newFixture(t, config.RegistryConfig{}, config.RateLimitConfig{})
	w, body := f.do(t, "GET", "/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["build_version"])
	assert.EqualValues(t, 0, body["matches"])
}

func TestGetConfig(t *testing.T) {
	f := newFixture(t, config.RegistryConfig{}, config.RateLimitConfig{})
	w, body := f.do(t, "GET", "/config", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stub_v1", body["fallback_minigame_id"])
	assert.EqualValues(t, 8, body["max_players"])
}

func TestCreateMatchScenario(t *testing.T) {
	f := newFixture(t, config.RegistryConfig{}, config.RateLimitConfig{})
	w, body := f.do(t, "POST", "/matches", `{"minigame_id":"arena_v1","max_players":4}`)

	require.Equal(t, http.StatusOK, w.Code)
	matchID, _ := body["match_id"].(string)
	assert.True(t, strings.HasPrefix(matchID, "m_"))
	assert.Equal(t, "waiting", body["status"])

	joinToken, _ := body["join_token"].(string)
	require.NotEmpty(t, joinToken)
	assert.Len(t, strings.Split(joinToken, "."), 2)
}

func TestCreateMatchAllocationFailed(t *testing.T) {
	f := newFixture(t, config.RegistryConfig{MaxMatches: 1}, config.RateLimitConfig{})
	w, _ := f.do(t, "POST", "/matches", "{}")
	require.Equal(t, http.StatusOK, w.Code)

	w, body := f.do(t, "POST", "/matches", "{}")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "allocation_failed", body["error"])
}

func TestJoinUntilFullScenario(t *testing.T) {
	f := newFixture(t, config.RegistryConfig{}, config.RateLimitConfig{})
	_, created := f.do(t, "POST", "/matches", `{"max_players":4}`)
	matchID := created["match_id"].(string)

	tokens := map[string]bool{}
	for i := 0; i < 4; i++ {
		w, body := f.do(t, "POST", "/matches/"+matchID+"/join", "")
		require.Equal(t, http.StatusOK, w.Code)
		tok := body["join_token"].(string)
		assert.False(t, tokens[tok])
		tokens[tok] = true
	}

	w, body := f.do(t, "POST", "/matches/"+matchID+"/join", "")
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "match_full", body["error"])
}

func TestJoinErrors(t *testing.T) {
	f := newFixture(t, config.RegistryConfig{}, config.RateLimitConfig{})

	w, body := f.do(t, "POST", "/matches/m_missing/join", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "match_not_found", body["error"])

	_, created := f.do(t, "POST", "/matches", "{}")
	matchID := created["match_id"].(string)
	w, _ = f.do(t, "POST", "/matches/"+matchID+"/end", `{"reason":"test"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w, body = f.do(t, "POST", "/matches/"+matchID+"/join", "")
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, "match_ended", body["error"])
}

func TestHeartbeatAndList(t *testing.T) {
	f := newFixture(t, config.RegistryConfig{}, config.RateLimitConfig{})
	_, created := f.do(t, "POST", "/matches", `{"minigame_id":"arena_v1"}`)
	matchID := created["match_id"].(string)

	w, _ := f.do(t, "POST", "/matches/"+matchID+"/heartbeat", "")
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = f.do(t, "GET", "/matches?minigame_id=arena_v1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "active", list[0]["status"])
	assert.Nil(t, list[0]["join_token"])

	w, _ = f.do(t, "GET", "/matches?minigame_id=other", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Empty(t, list)
}

func TestVerifyToken(t *testing.T) {
	f := newFixture(t, config.RegistryConfig{}, config.RateLimitConfig{})

	tok, err := f.codec.Sign(token.Payload{MatchID: "m_1", PlayerID: "p_1"})
	require.NoError(t, err)

	w, body := f.do(t, "POST", "/tokens/verify", `{"token":"`+tok+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "m_1", body["match_id"])
	assert.Equal(t, "p_1", body["player_id"])

	w, body = f.do(t, "POST", "/tokens/verify", `{"token":"garbage"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_token", body["error"])
}

func TestZombieSweepScenario(t *testing.T) {
	f := newFixture(t, config.RegistryConfig{HeartbeatTTL: 10 * time.Millisecond}, config.RateLimitConfig{})
	_, created := f.do(t, "POST", "/matches", "{}")
	require.NotEmpty(t, created["match_id"])

	time.Sleep(50 * time.Millisecond)
	f.reg.Sweep()

	w, _ := f.do(t, "GET", "/matches", "")
	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Empty(t, list)

	w, _ = f.do(t, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "matchmaker_zombies_total 1\n")
}

func TestRateLimitScenario(t *testing.T) {
	f := newFixture(t, config.RegistryConfig{}, config.RateLimitConfig{MaxRequests: 2, Window: time.Minute})

	for i := 0; i < 2; i++ {
		w, _ := f.do(t, "POST", "/matches", "{}")
		require.Equal(t, http.StatusOK, w.Code)
	}

	w, body := f.do(t, "POST", "/matches", "{}")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", body["error"])

	// The limited request never reached the handler: still two matches.
	w, _ = f.do(t, "GET", "/matches", "")
	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 2)
}

func TestMetricsAndDashboardTextPlain(t *testing.T) {
	f := newFixture(t, config.RegistryConfig{}, config.RateLimitConfig{})
	f.do(t, "POST", "/matches", "{}")

	w, _ := f.do(t, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, w.Body.String(), "matchmaker_matches_active 1\n")
	assert.Contains(t, w.Body.String(), "matchmaker_matches_created_total 1\n")

	w, _ = f.do(t, "GET", "/dashboard", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Mini-game Platform Dashboard")
	assert.Contains(t, w.Body.String(), "matches_active=1")
}

func TestMalformedBodyIsServerError(t *testing.T) {
	f := newFixture(t, config.RegistryConfig{}, config.RateLimitConfig{})
	w, body := f.do(t, "POST", "/matches", "{not json")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "server_error", body["error"])
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, config.RegistryConfig{}, config.RateLimitConfig{})
	w, _ := f.do(t, "GET", "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
