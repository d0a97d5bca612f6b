package client

import (
	"time"

	"groupwatch/internal/conn"
	"groupwatch/internal/playback"
)

// Config holds the tunables of a client session.
type Config struct {
	// Endpoint is the chat service base URL, e.g. ws://localhost:8001.
	Endpoint string
	// StreamBase is the stream service base URL used to build source
	// locators.
	StreamBase string

	MaxReconnects int
	BaseDelay     time.Duration

	ControlSettle time.Duration
	SyncSettle    time.Duration
	ReadyTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Endpoint:      "ws://localhost:8001",
		StreamBase:    "http://localhost:8002",
		MaxReconnects: conn.DefaultMaxAttempts,
		BaseDelay:     conn.DefaultBaseDelay,
		ControlSettle: playback.DefaultControlSettle,
		SyncSettle:    playback.DefaultSyncSettle,
		ReadyTimeout:  playback.DefaultReadyTimeout,
	}
}

type Option func(*Config)

func WithEndpoint(endpoint string) Option {
	return func(c *Config) {
		c.Endpoint = endpoint
	}
}

func WithStreamBase(base string) Option {
	return func(c *Config) {
		c.StreamBase = base
	}
}

// WithBackoff sets the reconnect ceiling and the base delay; the nth retry
// waits n*base.
func WithBackoff(maxAttempts int, base time.Duration) Option {
	return func(c *Config) {
		c.MaxReconnects = maxAttempts
		c.BaseDelay = base
	}
}

func WithSettle(control, sync time.Duration) Option {
	return func(c *Config) {
		c.ControlSettle = control
		c.SyncSettle = sync
	}
}

func WithReadyTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ReadyTimeout = d
	}
}
