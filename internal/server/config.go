package server

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultChatAddr       = ":9000"
	defaultHTTPAddr       = ":8080"
	defaultMaxFrameSize   = 1 << 20
	defaultReadBufferSize = 4096
)

// RateLimitConfig defines the parameters for per-connection frame rate
// limiting. A Burst of zero disables the limit.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration.
type Config struct {
	// ChatAddr is the TCP endpoint for the chat protocol.
	ChatAddr string
	// HTTPAddr serves the liveness check and the WebSocket gateway.
	HTTPAddr       string
	AllowedOrigins []string
	// MaxFrameSize bounds a single frame, including a pending partial one.
	MaxFrameSize   int
	ReadBufferSize int
	// WriteTimeout bounds each frame write to a peer; zero waits forever.
	WriteTimeout time.Duration
	RateLimit    RateLimitConfig
	LogLevel     slog.Level
}

func defaultConfig() Config {
	return Config{
		ChatAddr: defaultChatAddr,
		HTTPAddr: defaultHTTPAddr,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxFrameSize:   defaultMaxFrameSize,
		ReadBufferSize: defaultReadBufferSize,
		RateLimit: RateLimitConfig{
			RefillInterval: time.Second,
		},
		LogLevel: slog.LevelInfo,
	}
}

// sanitized returns a copy of cfg with unset or invalid fields replaced by
// defaults.
func (cfg Config) sanitized() Config {
	if cfg.ChatAddr == "" {
		cfg.ChatAddr = defaultChatAddr
	}

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}

	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = defaultMaxFrameSize
	}

	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = defaultReadBufferSize
	}

	if cfg.WriteTimeout < 0 {
		cfg.WriteTimeout = 0
	}

	if cfg.RateLimit.Burst < 0 {
		cfg.RateLimit.Burst = 0
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
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
// Falls back to default values if environment variables are not set or invalid.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if addr := os.Getenv("CHAT_ADDR"); addr != "" {
		cfg.ChatAddr = addr
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.HTTPAddr = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if size := os.Getenv("MAX_FRAME_SIZE"); size != "" {
		cfg.MaxFrameSize = parsePositiveInt(size, cfg.MaxFrameSize)
	}

	if size := os.Getenv("READ_BUFFER_SIZE"); size != "" {
		cfg.ReadBufferSize = parsePositiveInt(size, cfg.ReadBufferSize)
	}

	if timeout := os.Getenv("WRITE_TIMEOUT"); timeout != "" {
		cfg.WriteTimeout = parseSeconds(timeout, cfg.WriteTimeout, true)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		if parsed, err := strconv.Atoi(burst); err == nil && parsed >= 0 {
			cfg.RateLimit.Burst = parsed
		}
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval, false)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = ParseLogLevel(level)
	}

	return &cfg
}

// ParseLogLevel maps debug, info, warn/warning and error to slog levels.
// Anything else yields info.
func ParseLogLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parsePositiveInt(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration, allowZero bool) time.Duration {
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 || (seconds == 0 && !allowZero) {
		return defaultValue
	}
	return time.Duration(seconds) * time.Second
}
