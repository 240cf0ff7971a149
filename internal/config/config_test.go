package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "dev_secret_change_me", cfg.Auth.Secret)
	assert.Equal(t, 300*time.Second, cfg.Auth.TokenTTL)
	assert.Equal(t, 60*time.Second, cfg.Registry.HeartbeatTTL)
	assert.Equal(t, 5*time.Second, cfg.Registry.SweepInterval)
	assert.Equal(t, 200, cfg.Registry.MaxMatches)
	assert.Equal(t, "127.0.0.1:7770", cfg.Pool.DefaultEndpoint)
	assert.Equal(t, 30, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 5, cfg.Alerts.ErrorThreshold)
	assert.False(t, cfg.Host.Enabled)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	data := `
server:
  port: 9090
auth:
  secret: file_secret
pool:
  servers: "10.0.0.1:7770=4"
host:
  enabled: true
  server_cmd: "./game --match {match_id} --port {port}"
  max_rooms: 16
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "file_secret", cfg.Auth.Secret)
	assert.Equal(t, "10.0.0.1:7770=4", cfg.Pool.Servers)
	assert.True(t, cfg.Host.Enabled)
	assert.Equal(t, 16, cfg.Host.MaxRooms)
	// Unset fields still get defaults.
	assert.Equal(t, 60*time.Second, cfg.Registry.HeartbeatTTL)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0644))

	t.Setenv("MATCHMAKER_PORT", "7001")
	t.Setenv("MATCHMAKER_SECRET", "env_secret")
	t.Setenv("MATCHMAKER_TOKEN_TTL_S", "120")
	t.Setenv("MATCHMAKER_RATE_LIMIT_WINDOW_MS", "2500")
	t.Setenv("MATCHMAKER_HOST_SUPERVISOR", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7001, cfg.Server.Port)
	assert.Equal(t, "env_secret", cfg.Auth.Secret)
	assert.Equal(t, 120*time.Second, cfg.Auth.TokenTTL)
	assert.Equal(t, 2500*time.Millisecond, cfg.RateLimit.Window)
	assert.True(t, cfg.Host.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("MATCHMAKER_PORT", "not_a_number")
	t.Setenv("MATCHMAKER_TOKEN_TTL_S", "-5")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 300*time.Second, cfg.Auth.TokenTTL)
}
