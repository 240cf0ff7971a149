package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the matchmaker configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Registry  RegistryConfig  `yaml:"registry"`
	Pool      PoolConfig      `yaml:"pool"`
	Host      HostConfig      `yaml:"host"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Alerts    AlertConfig     `yaml:"alerts"`
	Policy    PolicyConfig    `yaml:"policy"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Port       int    `yaml:"port"`
}

// AuthConfig holds join-token settings
type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// RegistryConfig holds match lifecycle settings
type RegistryConfig struct {
	HeartbeatTTL   time.Duration `yaml:"heartbeat_ttl"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	MaxMatches     int           `yaml:"max_matches"`
	EndedRetention time.Duration `yaml:"ended_retention"`
	CrashThreshold int           `yaml:"crash_rate_threshold"`
}

// PoolConfig holds static server pool settings
type PoolConfig struct {
	// Servers is the raw endpoint=capacity list, e.g.
	// "10.0.0.1:7770=4,10.0.0.2:7770=8"
	Servers         string `yaml:"servers"`
	DefaultEndpoint string `yaml:"default_endpoint"`
}

// HostConfig holds host supervisor settings
type HostConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ServerCmd      string        `yaml:"server_cmd"`
	BasePort       int           `yaml:"base_port"`
	MaxRooms       int           `yaml:"max_rooms"`
	RestartMax     int           `yaml:"restart_max"`
	RestartBackoff time.Duration `yaml:"restart_backoff"`
	LogDir         string        `yaml:"log_dir"`
}

// RateLimitConfig holds per-client POST rate limiting settings
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// AlertConfig holds alerting thresholds
type AlertConfig struct {
	ErrorThreshold int           `yaml:"error_threshold"`
	Window         time.Duration `yaml:"window"`
}

// PolicyConfig holds remote policy file settings
type PolicyConfig struct {
	Path     string        `yaml:"path"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// Load reads configuration from an optional YAML file, then applies
// MATCHMAKER_* environment overrides and defaults. An empty path skips the
// file entirely and configures from environment alone.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

// applyEnv overlays MATCHMAKER_* environment variables onto the config.
// Environment always wins over the file.
func (c *Config) applyEnv() {
	envInt("MATCHMAKER_PORT", &c.Server.Port)
	envString("MATCHMAKER_SECRET", &c.Auth.Secret)
	envString("MATCHMAKER_DEFAULT_ENDPOINT", &c.Pool.DefaultEndpoint)
	envString("MATCHMAKER_SERVER_POOL", &c.Pool.Servers)
	envSeconds("MATCHMAKER_TOKEN_TTL_S", &c.Auth.TokenTTL)
	envSeconds("MATCHMAKER_HEARTBEAT_TTL_S", &c.Registry.HeartbeatTTL)
	envInt("MATCHMAKER_MAX_MATCHES", &c.Registry.MaxMatches)
	envInt("MATCHMAKER_CRASH_RATE_THRESHOLD", &c.Registry.CrashThreshold)
	envSeconds("MATCHMAKER_ENDED_RETENTION_S", &c.Registry.EndedRetention)

	envBool("MATCHMAKER_HOST_SUPERVISOR", &c.Host.Enabled)
	envString("MATCHMAKER_HOST_SERVER_CMD", &c.Host.ServerCmd)
	envInt("MATCHMAKER_HOST_BASE_PORT", &c.Host.BasePort)
	envInt("MATCHMAKER_HOST_MAX_ROOMS", &c.Host.MaxRooms)
	envInt("MATCHMAKER_HOST_RESTART_MAX", &c.Host.RestartMax)
	envMillis("MATCHMAKER_HOST_RESTART_BACKOFF_MS", &c.Host.RestartBackoff)
	envString("MATCHMAKER_HOST_LOG_DIR", &c.Host.LogDir)

	envInt("MATCHMAKER_RATE_LIMIT_MAX", &c.RateLimit.MaxRequests)
	envMillis("MATCHMAKER_RATE_LIMIT_WINDOW_MS", &c.RateLimit.Window)

	envInt("MATCHMAKER_ERROR_ALERT_THRESHOLD", &c.Alerts.ErrorThreshold)
	envMillis("MATCHMAKER_ALERT_WINDOW_MS", &c.Alerts.Window)

	envString("MATCHMAKER_CONFIG_PATH", &c.Policy.Path)
	envMillis("MATCHMAKER_CONFIG_TTL_MS", &c.Policy.CacheTTL)
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Auth.Secret == "" {
		c.Auth.Secret = "dev_secret_change_me"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 300 * time.Second
	}
	if c.Registry.HeartbeatTTL == 0 {
		c.Registry.HeartbeatTTL = 60 * time.Second
	}
	if c.Registry.SweepInterval == 0 {
		c.Registry.SweepInterval = 5 * time.Second
	}
	if c.Registry.MaxMatches == 0 {
		c.Registry.MaxMatches = 200
	}
	if c.Registry.EndedRetention == 0 {
		c.Registry.EndedRetention = 300 * time.Second
	}
	if c.Registry.CrashThreshold == 0 {
		c.Registry.CrashThreshold = 3
	}
	if c.Pool.DefaultEndpoint == "" {
		c.Pool.DefaultEndpoint = "127.0.0.1:7770"
	}
	if c.Host.BasePort == 0 {
		c.Host.BasePort = 7800
	}
	if c.Host.MaxRooms == 0 {
		c.Host.MaxRooms = 8
	}
	if c.Host.RestartMax == 0 {
		c.Host.RestartMax = 3
	}
	if c.Host.RestartBackoff == 0 {
		c.Host.RestartBackoff = time.Second
	}
	if c.Host.LogDir == "" {
		c.Host.LogDir = os.TempDir()
	}
	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = 30
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = 10 * time.Second
	}
	if c.Alerts.ErrorThreshold == 0 {
		c.Alerts.ErrorThreshold = 5
	}
	if c.Alerts.Window == 0 {
		c.Alerts.Window = 60 * time.Second
	}
	if c.Policy.CacheTTL == 0 {
		c.Policy.CacheTTL = 5 * time.Second
	}
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envSeconds(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = time.Duration(n) * time.Second
		}
	}
}

func envMillis(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}
