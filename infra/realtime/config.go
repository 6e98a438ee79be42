package realtime

import (
	"fmt"
	"time"
)

// Config tunes the WebSocket endpoint.
type Config struct {
	// Path is where the endpoint is mounted on the API server.
	Path string `json:"path"`
	// AllowedOrigins lists accepted Origin headers. Empty accepts any origin,
	// which suits native mobile clients that send none.
	AllowedOrigins []string      `json:"allowed_origins"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	PongTimeout    time.Duration `json:"pong_timeout"`
	// PingInterval must be shorter than PongTimeout.
	PingInterval time.Duration `json:"ping_interval"`
	// HandlerTimeout bounds the store round-trip of one inbound event.
	HandlerTimeout time.Duration `json:"handler_timeout"`
	// ReadLimit is the maximum size in bytes of an inbound message.
	ReadLimit int64 `json:"read_limit"`
	// ReplyBuffer is the number of error replies queued per connection.
	ReplyBuffer int `json:"reply_buffer"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Path == "" {
		c.Path = "/ws"
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = c.PongTimeout * 9 / 10
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 10 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 << 10
	}
	if c.ReplyBuffer <= 0 {
		c.ReplyBuffer = 8
	}
}

// Validate checks the timings are consistent.
func (c Config) Validate() error {
	if c.PingInterval >= c.PongTimeout {
		return fmt.Errorf("realtime: ping_interval %s must be below pong_timeout %s", c.PingInterval, c.PongTimeout)
	}
	if len(c.Path) == 0 || c.Path[0] != '/' {
		return fmt.Errorf("realtime: path %q must start with /", c.Path)
	}
	return nil
}
