package server

import (
	"time"

	"github.com/fablecraft/realtime-core/internal/realtime"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls
// and the timings of the realtime core.
type Config struct {
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig

	// SendBufferSize is the number of outbound frames queued per connection
	// before a send starts waiting on WriteTimeout.
	SendBufferSize int
	WriteTimeout   time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	FlowTimeout      time.Duration
	FlowStepInterval time.Duration
	TypingTTL        time.Duration

	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config populated with default values for all settings.
func DefaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 64 << 10,
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
		SendBufferSize:    256,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: realtime.DefaultHeartbeatInterval,
		HeartbeatTimeout:  realtime.DefaultHeartbeatTimeout,
		FlowTimeout:       2 * time.Minute,
		FlowStepInterval:  time.Second,
		TypingTTL:         realtime.DefaultTypingTTL,
		ShutdownTimeout:   10 * time.Second,
	}
}

// Sanitize replaces unusable values with defaults and normalizes the origin
// list. The heartbeat timeout is raised to at least three intervals.
func (cfg Config) Sanitize() Config {
	def := DefaultConfig()

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
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if cfg.HeartbeatTimeout < 3*cfg.HeartbeatInterval {
		cfg.HeartbeatTimeout = 3 * cfg.HeartbeatInterval
	}
	if cfg.FlowTimeout < 0 {
		cfg.FlowTimeout = 0
	}
	if cfg.FlowStepInterval <= 0 {
		cfg.FlowStepInterval = def.FlowStepInterval
	}
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = def.TypingTTL
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	origins, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	if allowAll {
		origins = append([]string{"*"}, origins...)
	}
	cfg.AllowedOrigins = origins
	return cfg
}
