// Package server provides configuration helpers that define runtime defaults,
// validation, and the timing parameters of the arena service.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-ini/ini"
	"github.com/pkg/errors"
)

// RateLimitConfig defines the parameters for per-connection inbound frame
// limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration, including transport limits and the
// simulation and liveness timings.
type Config struct {
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig

	TickInterval    time.Duration
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteWait       time.Duration
	SendBufferSize  int
	IntentQueueSize int

	StaticDir string
	LogLevel  string
}

const (
	defaultPort            = ":8080"
	defaultMaxMessageSize  = 64 << 10
	defaultRateBurst       = 60
	defaultTickInterval    = 50 * time.Millisecond
	defaultPingInterval    = 5 * time.Second
	defaultPongTimeout     = 10 * time.Second
	defaultWriteWait       = 5 * time.Second
	defaultSendBufferSize  = 32
	defaultIntentQueueSize = 1024
	defaultStaticDir       = "./static"
	defaultLogLevel        = "info"
)

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
			"http://127.0.0.1:8080",
		},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultRateBurst,
			RefillInterval: time.Second,
		},
		TickInterval:    defaultTickInterval,
		PingInterval:    defaultPingInterval,
		PongTimeout:     defaultPongTimeout,
		WriteWait:       defaultWriteWait,
		SendBufferSize:  defaultSendBufferSize,
		IntentQueueSize: defaultIntentQueueSize,
		StaticDir:       defaultStaticDir,
		LogLevel:        defaultLogLevel,
	}
}

// sanitizeConfig replaces unusable values with defaults and returns a copy
// that owns its slices.
func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultRateBurst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	// A probe must go out before the peer can be declared dead.
	if cfg.PingInterval >= cfg.PongTimeout {
		cfg.PingInterval = cfg.PongTimeout / 2
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaultSendBufferSize
	}
	if cfg.IntentQueueSize <= 0 {
		cfg.IntentQueueSize = defaultIntentQueueSize
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	ApplyEnv(&cfg)
	return &cfg
}

// LoadConfigFile reads an ini file on top of the defaults. Environment
// variables are not consulted; call ApplyEnv afterwards for that.
//
//	[server]
//	port = :8080
//	allowed_origins = http://localhost:8080, https://arena.example
//	max_message_size = 65536
//	static_dir = ./static
//	log_level = info
//	ping_interval = 5s
//	pong_timeout = 10s
//	write_wait = 5s
//	send_buffer_size = 32
//
//	[ratelimit]
//	burst = 60
//	refill_interval = 1s
//
//	[game]
//	tick_interval = 50ms
//	intent_queue_size = 1024
func LoadConfigFile(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load config file %s", path)
	}

	cfg := defaultConfig()

	sec := file.Section("server")
	cfg.Port = sec.Key("port").MustString(cfg.Port)
	if sec.HasKey("allowed_origins") {
		cfg.AllowedOrigins = parseOrigins(sec.Key("allowed_origins").String())
	}
	cfg.MaxMessageSize = sec.Key("max_message_size").MustInt64(cfg.MaxMessageSize)
	cfg.StaticDir = sec.Key("static_dir").MustString(cfg.StaticDir)
	cfg.LogLevel = sec.Key("log_level").MustString(cfg.LogLevel)
	cfg.PingInterval = sec.Key("ping_interval").MustDuration(cfg.PingInterval)
	cfg.PongTimeout = sec.Key("pong_timeout").MustDuration(cfg.PongTimeout)
	cfg.WriteWait = sec.Key("write_wait").MustDuration(cfg.WriteWait)
	cfg.SendBufferSize = sec.Key("send_buffer_size").MustInt(cfg.SendBufferSize)

	rl := file.Section("ratelimit")
	cfg.RateLimit.Burst = rl.Key("burst").MustInt(cfg.RateLimit.Burst)
	cfg.RateLimit.RefillInterval = rl.Key("refill_interval").MustDuration(cfg.RateLimit.RefillInterval)

	game := file.Section("game")
	cfg.TickInterval = game.Key("tick_interval").MustDuration(cfg.TickInterval)
	cfg.IntentQueueSize = game.Key("intent_queue_size").MustInt(cfg.IntentQueueSize)

	return &cfg, nil
}

// ApplyEnv overrides cfg with any of SERVER_PORT, ALLOWED_ORIGINS,
// MAX_MESSAGE_SIZE, RATE_LIMIT_BURST, RATE_LIMIT_REFILL_INTERVAL,
// PING_INTERVAL, PONG_TIMEOUT, STATIC_DIR and LOG_LEVEL that are set.
func ApplyEnv(cfg *Config) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseDuration(interval, cfg.RateLimit.RefillInterval)
	}
	if interval := os.Getenv("PING_INTERVAL"); interval != "" {
		cfg.PingInterval = parseDuration(interval, cfg.PingInterval)
	}
	if timeout := os.Getenv("PONG_TIMEOUT"); timeout != "" {
		cfg.PongTimeout = parseDuration(timeout, cfg.PongTimeout)
	}
	if dir := os.Getenv("STATIC_DIR"); dir != "" {
		cfg.StaticDir = dir
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go duration syntax ("250ms") or a bare number of
// seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
