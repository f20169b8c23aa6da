// Package transport is the dashboard-side client of the gateway's account
// status stream. It keeps one connection alive, resuming from the last cursor.
package transport

import (
	"encoding/json"
	"math/rand"
	"time"

	"github.com/Rajchodisetti/account-stream/internal/cursor"
)

// DefaultPath is the gateway route the client subscribes to
const DefaultPath = "/v1/stream/account-status"

// Event is one account status event received from the gateway
type Event struct {
	ID         string          // transport id: line
	Payload    json.RawMessage // raw JSON object
	Fields     map[string]any  // decoded payload
	IDs        cursor.Identifiers
	ReceivedAt time.Time
}

// ConnectionState of the client's single connection
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
	StateReconnectScheduled
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	case StateReconnectScheduled:
		return "reconnect_scheduled"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config for one subscription
type Config struct {
	BaseURL   string `yaml:"base_url"`
	Path      string `yaml:"path"`
	Token     string `yaml:"token"`
	AccountID string `yaml:"account_id"`

	Reconnect ReconnectConfig `yaml:"reconnect"`

	WatchdogIntervalMs int `yaml:"watchdog_interval_ms"`
	StaleAfterMs       int `yaml:"stale_after_ms"`
	MaxChannelBuffer   int `yaml:"max_channel_buffer"`

	// Connection attempts allowed before the first successful open; after
	// that the client retries indefinitely
	MaxInitialAttempts int `yaml:"max_initial_attempts"`
}

type ReconnectConfig struct {
	InitialDelayMs int `yaml:"initial_delay_ms"`
	MaxDelayMs     int `yaml:"max_delay_ms"`
	JitterMs       int `yaml:"jitter_ms"`
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.Reconnect.InitialDelayMs <= 0 {
		c.Reconnect.InitialDelayMs = 1000
	}
	if c.Reconnect.MaxDelayMs <= 0 {
		c.Reconnect.MaxDelayMs = 30000
	}
	if c.Reconnect.JitterMs < 0 {
		c.Reconnect.JitterMs = 0
	}
	if c.WatchdogIntervalMs <= 0 {
		c.WatchdogIntervalMs = 15000
	}
	if c.StaleAfterMs <= 0 {
		c.StaleAfterMs = 60000
	}
	if c.MaxChannelBuffer <= 0 {
		c.MaxChannelBuffer = 100
	}
	if c.MaxInitialAttempts <= 0 {
		c.MaxInitialAttempts = 5
	}
	return c
}

// Delay is the jitter-free wait before reconnect attempt n (n >= 1):
// initial·2^(n-1), capped at the max delay.
func (rc ReconnectConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	limit := time.Duration(rc.MaxDelayMs) * time.Millisecond
	d := time.Duration(rc.InitialDelayMs) * time.Millisecond
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}

// Backoff is Delay plus a uniform jitter in [0, JitterMs)
func (rc ReconnectConfig) Backoff(attempt int) time.Duration {
	d := rc.Delay(attempt)
	if rc.JitterMs > 0 {
		d += time.Duration(rand.Int63n(int64(rc.JitterMs))) * time.Millisecond
	}
	return d
}
