package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v2"
)

// CodecConfig describes one media codec advertised by every router.
type CodecConfig struct {
	Kind        string            `yaml:"kind"`
	MimeType    string            `yaml:"mime_type"`
	ClockRate   uint32            `yaml:"clock_rate"`
	Channels    uint16            `yaml:"channels,omitempty"`
	PayloadType uint8             `yaml:"payload_type"`
	Parameters  map[string]string `yaml:"parameters,omitempty"`
}

type Config struct {
	InstanceID string `yaml:"instance_id"`

	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		Address         string        `yaml:"address"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"signal"`

	Media struct {
		NumWorkers  int      `yaml:"num_workers"`
		RTCMinPort  uint16   `yaml:"rtc_min_port"`
		RTCMaxPort  uint16   `yaml:"rtc_max_port"`
		ListenIPs   []string `yaml:"listen_ips"`
		AnnouncedIP string   `yaml:"announced_ip"`
		ICEServers  []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		Codecs []CodecConfig `yaml:"codecs"`

		AudioLevelObserver struct {
			Interval   time.Duration `yaml:"interval"`
			Threshold  int8          `yaml:"threshold"`
			MaxEntries int           `yaml:"max_entries"`
		} `yaml:"audio_level_observer"`

		WebRtcTransport struct {
			InitialAvailableOutgoingBitrate uint32 `yaml:"initial_available_outgoing_bitrate"`
			EnableUDP                       bool   `yaml:"enable_udp"`
			EnableTCP                       bool   `yaml:"enable_tcp"`
			PreferUDP                       bool   `yaml:"prefer_udp"`
		} `yaml:"webrtc_transport"`
	} `yaml:"media"`

	Session struct {
		InviteTTL         time.Duration `yaml:"invite_ttl"`
		InviteMaxAttempts int           `yaml:"invite_max_attempts"`
		ConnectTimeout    time.Duration `yaml:"connect_timeout"`

		Heartbeat struct {
			Enabled  bool          `yaml:"enabled"`
			Interval time.Duration `yaml:"interval"`
			Timeout  time.Duration `yaml:"timeout"`
		} `yaml:"heartbeat"`
	} `yaml:"session"`

	Identity struct {
		Provider  string `yaml:"provider"` // jwt | http
		JWTSecret string `yaml:"jwt_secret"`

		HTTP struct {
			BaseURL string        `yaml:"base_url"`
			Timeout time.Duration `yaml:"timeout"`
		} `yaml:"http"`

		Retry struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
		} `yaml:"retry"`

		CircuitBreaker struct {
			FailureThreshold int           `yaml:"failure_threshold"`
			SuccessThreshold int           `yaml:"success_threshold"`
			Timeout          time.Duration `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"identity"`

	Monitoring struct {
		PrometheusEnabled bool          `yaml:"prometheus_enabled"`
		MetricsInterval   time.Duration `yaml:"metrics_interval"`
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

	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Address  string        `yaml:"address"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		PoolSize int           `yaml:"pool_size"`
		LeaseTTL time.Duration `yaml:"lease_ttl"`
	} `yaml:"redis"`

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

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if c.Signal.Address == "" {
		return fmt.Errorf("signal.address must not be empty")
	}
	if c.Signal.Address == c.Server.Address {
		return fmt.Errorf("signal.address must differ from server.address")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}

	// Media
	if c.Media.NumWorkers <= 0 {
		return fmt.Errorf("media.num_workers must be > 0")
	}
	if c.Media.RTCMinPort == 0 || c.Media.RTCMaxPort == 0 {
		return fmt.Errorf("media.rtc_min_port and rtc_max_port must be set")
	}
	if c.Media.RTCMinPort >= c.Media.RTCMaxPort {
		return fmt.Errorf("media.rtc_min_port must be < rtc_max_port")
	}
	if len(c.Media.Codecs) == 0 {
		return fmt.Errorf("media.codecs must not be empty")
	}
	for i, codec := range c.Media.Codecs {
		if codec.Kind != "audio" && codec.Kind != "video" {
			return fmt.Errorf("media.codecs[%d].kind must be audio or video", i)
		}
		if codec.MimeType == "" || codec.ClockRate == 0 {
			return fmt.Errorf("media.codecs[%d] needs mime_type and clock_rate", i)
		}
	}
	if c.Media.AudioLevelObserver.Interval <= 0 {
		return fmt.Errorf("media.audio_level_observer.interval must be > 0")
	}
	if c.Media.AudioLevelObserver.MaxEntries <= 0 {
		return fmt.Errorf("media.audio_level_observer.max_entries must be > 0")
	}
	if !c.Media.WebRtcTransport.EnableUDP && !c.Media.WebRtcTransport.EnableTCP {
		return fmt.Errorf("media.webrtc_transport needs udp or tcp enabled")
	}

	// Session
	if c.Session.InviteTTL <= 0 {
		return fmt.Errorf("session.invite_ttl must be > 0")
	}
	if c.Session.InviteMaxAttempts <= 0 {
		return fmt.Errorf("session.invite_max_attempts must be > 0")
	}
	if c.Session.ConnectTimeout <= 0 {
		return fmt.Errorf("session.connect_timeout must be > 0")
	}
	if c.Session.Heartbeat.Enabled {
		if c.Session.Heartbeat.Interval <= 0 {
			return fmt.Errorf("session.heartbeat.interval must be > 0 when heartbeat is enabled")
		}
		if c.Session.Heartbeat.Timeout <= c.Session.Heartbeat.Interval {
			return fmt.Errorf("session.heartbeat.timeout must be > interval")
		}
	}

	// Identity
	switch c.Identity.Provider {
	case "jwt":
		if c.Identity.JWTSecret == "" {
			return fmt.Errorf("identity.jwt_secret must not be empty for the jwt provider")
		}
	case "http":
		if c.Identity.HTTP.BaseURL == "" {
			return fmt.Errorf("identity.http.base_url must not be empty for the http provider")
		}
		if c.Identity.HTTP.Timeout <= 0 {
			return fmt.Errorf("identity.http.timeout must be > 0")
		}
	default:
		return fmt.Errorf("identity.provider must be jwt or http, got %q", c.Identity.Provider)
	}
	if c.Identity.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("identity.retry.max_attempts must be > 0")
	}
	if c.Identity.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("identity.circuit_breaker.failure_threshold must be > 0")
	}

	// Monitoring
	if c.Monitoring.MetricsInterval <= 0 {
		return fmt.Errorf("monitoring.metrics_interval must be > 0")
	}

	// Tracing
	if c.Tracing.Enabled && c.Tracing.JaegerURL == "" {
		return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.LeaseTTL <= 0 {
			return fmt.Errorf("redis.lease_ttl must be > 0 when redis.enabled=true")
		}
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
	}
	if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
		return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	// Codecs listed in the file replace the default set wholesale.
	cfg.Media.Codecs = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	if len(cfg.Media.Codecs) == 0 {
		cfg.Media.Codecs = DefaultCodecs()
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultCodecs is the opus + VP8 set every router advertises unless configured.
func DefaultCodecs() []CodecConfig {
	return []CodecConfig{
		{Kind: "audio", MimeType: "audio/opus", ClockRate: 48000, Channels: 2, PayloadType: 100},
		{
			Kind:        "video",
			MimeType:    "video/VP8",
			ClockRate:   90000,
			PayloadType: 101,
			Parameters:  map[string]string{"x-google-start-bitrate": "1000"},
		},
	}
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.InstanceID = ""

	cfg.Server.Address = ":3000"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second

	cfg.Signal.Address = ":3001"
	cfg.Signal.PingInterval = 10 * time.Second
	cfg.Signal.PongTimeout = 30 * time.Second
	cfg.Signal.ShutdownTimeout = 15 * time.Second

	cfg.Media.NumWorkers = runtime.NumCPU()
	cfg.Media.RTCMinPort = 32767
	cfg.Media.RTCMaxPort = 65535
	cfg.Media.ListenIPs = []string{"127.0.0.1"}
	cfg.Media.Codecs = DefaultCodecs()
	cfg.Media.AudioLevelObserver.Interval = 800 * time.Millisecond
	cfg.Media.AudioLevelObserver.Threshold = -80
	cfg.Media.AudioLevelObserver.MaxEntries = 1
	cfg.Media.WebRtcTransport.InitialAvailableOutgoingBitrate = 1000000
	cfg.Media.WebRtcTransport.EnableUDP = true
	cfg.Media.WebRtcTransport.EnableTCP = true
	cfg.Media.WebRtcTransport.PreferUDP = true

	cfg.Session.InviteTTL = 10 * time.Minute
	cfg.Session.InviteMaxAttempts = 32
	cfg.Session.ConnectTimeout = 10 * time.Second
	cfg.Session.Heartbeat.Enabled = true
	cfg.Session.Heartbeat.Interval = time.Second
	cfg.Session.Heartbeat.Timeout = 30 * time.Second

	cfg.Identity.Provider = "jwt"
	cfg.Identity.JWTSecret = "change-me-in-production"
	cfg.Identity.HTTP.Timeout = 5 * time.Second
	cfg.Identity.Retry.MaxAttempts = 3
	cfg.Identity.Retry.InitialDelay = 100 * time.Millisecond
	cfg.Identity.Retry.MaxDelay = time.Second
	cfg.Identity.CircuitBreaker.FailureThreshold = 5
	cfg.Identity.CircuitBreaker.SuccessThreshold = 2
	cfg.Identity.CircuitBreaker.Timeout = 30 * time.Second

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsInterval = 15 * time.Second

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.LeaseTTL = 15 * time.Second

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 50
	cfg.RateLimiting.WebSocket.Burst = 100
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 64 * 1024

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("SFUCORE_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if addr := os.Getenv("SFUCORE_SIGNAL_ADDRESS"); addr != "" {
		c.Signal.Address = addr
	}
	if level := os.Getenv("SFUCORE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("SFUCORE_JWT_SECRET"); secret != "" {
		c.Identity.JWTSecret = secret
	}
	if provider := os.Getenv("SFUCORE_IDENTITY_PROVIDER"); provider != "" {
		c.Identity.Provider = provider
	}
	if addr := os.Getenv("SFUCORE_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if ip := os.Getenv("SFUCORE_ANNOUNCED_IP"); ip != "" {
		c.Media.AnnouncedIP = ip
	}
}
