package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helper to build a minimal valid config that can be tweaked in tests.
func validBaseConfig() *Config {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 10
	cfg.RateLimiting.HTTP.Burst = 20
	cfg.RateLimiting.HTTP.MaxConcurrent = 5
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 50
	cfg.RateLimiting.WebSocket.Burst = 100
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 65536
	return cfg
}

func TestDefaultConfig_ClientTimings(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5*time.Second, cfg.Client.ProbeInterval)
	assert.Equal(t, 300*time.Millisecond, cfg.Client.ReconnectDelay)
	assert.Equal(t, time.Second, cfg.Client.ResumeDelay)
	assert.Equal(t, time.Second, cfg.Client.AutoConnectDelay)
	assert.Equal(t, 5*time.Second, cfg.Client.NotificationCooldown)
	assert.Equal(t, 30, cfg.Client.PreviewLength)
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 0
	cfg.RateLimiting.WebSocket.Burst = 0

	require.NoError(t, cfg.Validate())
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"probe interval must be > 0", func(c *Config) { c.Client.ProbeInterval = 0 }},
		{"preview length must be > 0", func(c *Config) { c.Client.PreviewLength = 0 }},
		{"negative reconnect delay", func(c *Config) { c.Client.ReconnectDelay = -time.Second }},
		{"signal url required without discovery", func(c *Config) { c.Signal.URL = "" }},
		{"signal url scheme", func(c *Config) { c.Signal.URL = "ftp://example.test/peerjs" }},
		{"lookup url needs host", func(c *Config) { c.Geolocation.LookupURL = "http:///json" }},
		{"pong timeout must exceed ping", func(c *Config) { c.Signal.PongTimeout = c.Signal.PingInterval }},
		{"unknown storage driver", func(c *Config) { c.Storage.Driver = "mongo" }},
		{"sqlite path required", func(c *Config) { c.Storage.SQLitePath = "" }},
		{"half geolocation", func(c *Config) { lat := 1.0; c.Geolocation.Latitude = &lat }},
		{"port range inverted", func(c *Config) { c.WebRTC.PortRange.Min = 20000; c.WebRTC.PortRange.Max = 10000 }},
		{"token secret required", func(c *Config) { c.Auth.TokenSecret = "" }},
		{"http rps must be > 0", func(c *Config) { c.RateLimiting.HTTP.RequestsPerSecond = 0 }},
		{"http burst must be > 0", func(c *Config) { c.RateLimiting.HTTP.Burst = 0 }},
		{"ws mps must be > 0", func(c *Config) { c.RateLimiting.WebSocket.MessagesPerSecond = 0 }},
		{"ws max message size must be >= 0", func(c *Config) { c.RateLimiting.WebSocket.MaxMessageSizeBytes = -1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBaseConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_SignalDiscoveryAllowsEmptyURL(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Signal.URL = ""
	cfg.Signal.Discover = true
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, StorageSQLite, cfg.Storage.Driver)
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peerlink.yaml")
	yaml := `
client:
  probe_interval: 2s
storage:
  driver: memory
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("PEERLINK_SIGNAL_URL", "ws://example.test/peerjs")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Client.ProbeInterval)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "ws://example.test/peerjs", cfg.Signal.URL)
	// untouched defaults survive the partial document
	assert.Equal(t, 300*time.Millisecond, cfg.Client.ReconnectDelay)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("client: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
