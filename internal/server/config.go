// Package server provides configuration helpers that define runtime defaults,
// validation, and environment loading for the duochat service.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings.
type Config struct {
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig

	// AuthTimeout bounds the wait for the handshake frame.
	AuthTimeout time.Duration
	// SendTimeout is the write deadline for each outbound frame.
	SendTimeout time.Duration
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int

	// MaxParticipants caps sessions per room; 0 is unbounded.
	MaxParticipants int
	RoomIDLength    int
	PasswordHasher  string
	// RoomTTL expires empty rooms idle for longer; 0 disables expiration.
	RoomTTL       time.Duration
	SweepInterval time.Duration

	ShutdownTimeout time.Duration
	LogLevel        string
	LogFormat       string
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		AuthTimeout:     10 * time.Second,
		SendTimeout:     10 * time.Second,
		SendBuffer:      256,
		MaxParticipants: 0,
		RoomIDLength:    6,
		PasswordHasher:  "sha256",
		RoomTTL:         24 * time.Hour,
		SweepInterval:   time.Minute,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// Sanitize replaces invalid values with defaults and normalizes lists.
func (cfg Config) Sanitize() Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = def.AuthTimeout
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.MaxParticipants < 0 {
		cfg.MaxParticipants = 0
	}
	if cfg.RoomIDLength <= 0 {
		cfg.RoomIDLength = def.RoomIDLength
	}
	if strings.TrimSpace(cfg.PasswordHasher) == "" {
		cfg.PasswordHasher = def.PasswordHasher
	}
	if cfg.RoomTTL < 0 {
		cfg.RoomTTL = 0
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

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

	if v := os.Getenv("AUTH_TIMEOUT"); v != "" {
		cfg.AuthTimeout = parseDuration(v, cfg.AuthTimeout)
	}
	if v := os.Getenv("SEND_TIMEOUT"); v != "" {
		cfg.SendTimeout = parseDuration(v, cfg.SendTimeout)
	}
	if v := os.Getenv("SEND_BUFFER"); v != "" {
		cfg.SendBuffer = parseIntValue(v, cfg.SendBuffer)
	}
	if v := os.Getenv("MAX_PARTICIPANTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxParticipants = n
		}
	}
	if v := os.Getenv("ROOM_ID_LENGTH"); v != "" {
		cfg.RoomIDLength = parseIntValue(v, cfg.RoomIDLength)
	}
	if v := os.Getenv("PASSWORD_HASHER"); v != "" {
		cfg.PasswordHasher = strings.TrimSpace(v)
	}
	if v := os.Getenv("ROOM_TTL"); v != "" {
		if strings.TrimSpace(v) == "0" {
			cfg.RoomTTL = 0
		} else {
			cfg.RoomTTL = parseDuration(v, cfg.RoomTTL)
		}
	}
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		cfg.SweepInterval = parseDuration(v, cfg.SweepInterval)
	}
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		cfg.ShutdownTimeout = parseDuration(v, cfg.ShutdownTimeout)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return &cfg
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

// parseDuration accepts a bare number of seconds or a Go duration string.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
