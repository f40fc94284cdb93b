package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"peerlink/pkg/validation"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Client struct {
		ProbeInterval        time.Duration `yaml:"probe_interval"`
		ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
		ResumeDelay          time.Duration `yaml:"resume_delay"`
		AutoConnectDelay     time.Duration `yaml:"auto_connect_delay"`
		NotificationCooldown time.Duration `yaml:"notification_cooldown"`
		PreviewLength        int           `yaml:"preview_length"`
		FocusIdleTimeout     time.Duration `yaml:"focus_idle_timeout"`
		DownloadDir          string        `yaml:"download_dir"`
	} `yaml:"client"`

	Signal struct {
		Address         string        `yaml:"address"`
		URL             string        `yaml:"url"`
		Discover        bool          `yaml:"discover"`
		DiscoverTimeout time.Duration `yaml:"discover_timeout"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"signal"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
		PortRange  struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	Storage struct {
		Driver     string `yaml:"driver"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"storage"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Media struct {
		VideoFile    string `yaml:"video_file"`
		AudioFile    string `yaml:"audio_file"`
		RecordingDir string `yaml:"recording_dir"`
	} `yaml:"media"`

	Geolocation struct {
		Latitude  *float64      `yaml:"latitude"`
		Longitude *float64      `yaml:"longitude"`
		Accuracy  float64       `yaml:"accuracy"`
		LookupURL string        `yaml:"lookup_url"`
		Timeout   time.Duration `yaml:"timeout"`
		CacheTTL  time.Duration `yaml:"cache_ttl"`
	} `yaml:"geolocation"`

	Notifications struct {
		Enabled        bool   `yaml:"enabled"`
		Bus            bool   `yaml:"bus"`
		BusChannel     string `yaml:"bus_channel"`
		Icon           string `yaml:"icon"`
		AttachmentIcon string `yaml:"attachment_icon"`
	} `yaml:"notifications"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		Address           string `yaml:"address"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Auth struct {
		TokenSecret string        `yaml:"token_secret"`
		TokenTTL    time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond   float64 `yaml:"messages_per_second"`
			Burst               int     `yaml:"burst"`
			MaxMessageSizeBytes int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

const (
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Client
	if c.Client.ProbeInterval <= 0 {
		return fmt.Errorf("client.probe_interval must be > 0")
	}
	if c.Client.ReconnectDelay < 0 || c.Client.ResumeDelay < 0 || c.Client.AutoConnectDelay < 0 {
		return fmt.Errorf("client delays must be >= 0")
	}
	if c.Client.NotificationCooldown < 0 {
		return fmt.Errorf("client.notification_cooldown must be >= 0")
	}
	if c.Client.PreviewLength <= 0 {
		return fmt.Errorf("client.preview_length must be > 0")
	}
	if c.Client.FocusIdleTimeout <= 0 {
		return fmt.Errorf("client.focus_idle_timeout must be > 0")
	}

	// Signal
	if c.Signal.Address == "" {
		return fmt.Errorf("signal.address must not be empty")
	}
	if c.Signal.URL == "" && !c.Signal.Discover {
		return fmt.Errorf("signal.url must be set when signal.discover=false")
	}
	if c.Signal.URL != "" {
		if err := validation.ValidateURL(c.Signal.URL); err != nil {
			return fmt.Errorf("signal.url: %w", err)
		}
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}
	if c.Signal.ShutdownTimeout <= 0 {
		return fmt.Errorf("signal.shutdown_timeout must be > 0")
	}

	// WebRTC
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}

	// Storage
	switch c.Storage.Driver {
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path must not be empty when storage.driver=sqlite")
		}
	case StorageRedis:
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when storage.driver=redis")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("storage.driver must be one of sqlite, redis, memory")
	}
	if c.Redis.PoolSize <= 0 {
		return fmt.Errorf("redis.pool_size must be > 0")
	}

	// Geolocation
	if (c.Geolocation.Latitude == nil) != (c.Geolocation.Longitude == nil) {
		return fmt.Errorf("geolocation.latitude and longitude must be set together")
	}

	if c.Geolocation.LookupURL != "" {
		if err := validation.ValidateURL(c.Geolocation.LookupURL); err != nil {
			return fmt.Errorf("geolocation.lookup_url: %w", err)
		}
	}

	// Notifications
	if c.Notifications.Bus && c.Redis.Address == "" {
		return fmt.Errorf("redis.address must not be empty when notifications.bus=true")
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.Address == "" {
		return fmt.Errorf("monitoring.address must not be empty when prometheus_enabled=true")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Auth
	if c.Auth.TokenSecret == "" {
		return fmt.Errorf("auth.token_secret must not be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
// A .env file next to the working directory is loaded first when present.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Client.ProbeInterval = 5 * time.Second
	cfg.Client.ReconnectDelay = 300 * time.Millisecond
	cfg.Client.ResumeDelay = 1 * time.Second
	cfg.Client.AutoConnectDelay = 1 * time.Second
	cfg.Client.NotificationCooldown = 5 * time.Second
	cfg.Client.PreviewLength = 30
	cfg.Client.FocusIdleTimeout = 30 * time.Second
	cfg.Client.DownloadDir = "downloads"

	cfg.Signal.Address = ":9000"
	cfg.Signal.URL = "ws://localhost:9000/peerjs"
	cfg.Signal.DiscoverTimeout = 3 * time.Second
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.ShutdownTimeout = 30 * time.Second

	cfg.WebRTC.ICEServers = []ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}

	cfg.Storage.Driver = StorageSQLite
	cfg.Storage.SQLitePath = "peerlink.db"

	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Media.RecordingDir = "recordings"

	cfg.Geolocation.Accuracy = 10
	cfg.Geolocation.LookupURL = "http://ip-api.com/json/"
	cfg.Geolocation.Timeout = 10 * time.Second
	cfg.Geolocation.CacheTTL = 10 * time.Minute

	cfg.Notifications.Enabled = true
	cfg.Notifications.BusChannel = "peerlink:notifications"
	cfg.Notifications.Icon = "peerlink"
	cfg.Notifications.AttachmentIcon = "mail-attachment"

	cfg.Monitoring.PrometheusEnabled = false
	cfg.Monitoring.Address = ":9464"

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "console"

	cfg.Auth.TokenSecret = "change-me-in-production"
	cfg.Auth.TokenTTL = 24 * time.Hour

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 64 * 1024

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("PEERLINK_SIGNAL_ADDRESS"); addr != "" {
		c.Signal.Address = addr
	}
	if url := os.Getenv("PEERLINK_SIGNAL_URL"); url != "" {
		c.Signal.URL = url
	}
	if level := os.Getenv("PEERLINK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if driver := os.Getenv("PEERLINK_STORAGE_DRIVER"); driver != "" {
		c.Storage.Driver = driver
	}
	if path := os.Getenv("PEERLINK_SQLITE_PATH"); path != "" {
		c.Storage.SQLitePath = path
	}
	if addr := os.Getenv("PEERLINK_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if secret := os.Getenv("PEERLINK_TOKEN_SECRET"); secret != "" {
		c.Auth.TokenSecret = secret
	}
	if enabled, err := strconv.ParseBool(os.Getenv("PEERLINK_NOTIFICATIONS")); err == nil {
		c.Notifications.Enabled = enabled
	}
}
