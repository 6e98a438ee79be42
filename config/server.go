package config

import (
	"fmt"

	"github.com/kilianp07/lastmile/infra/realtime"
)

// ServerConfig holds the HTTP listener shared by the REST routes and the
// WebSocket endpoint.
type ServerConfig struct {
	Addr      string          `json:"addr"`
	WebSocket realtime.Config `json:"websocket"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	c.WebSocket.SetDefaults()
}

func (c ServerConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	return c.WebSocket.Validate()
}

// Channel registry backends.
const (
	ChannelsMemory = "memory"
	ChannelsMQTT   = "mqtt"
)

// ChannelsConfig selects the channel registry. mqtt relays events between
// instances through the broker configured in the mqtt section.
type ChannelsConfig struct {
	Type string `json:"type"`
	// Buffer is the per-subscription queue length.
	Buffer int `json:"buffer"`
}

func (c *ChannelsConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = ChannelsMemory
	}
	if c.Buffer <= 0 {
		c.Buffer = 64
	}
}

func (c ChannelsConfig) Validate() error {
	if c.Type != ChannelsMemory && c.Type != ChannelsMQTT {
		return fmt.Errorf("unknown type %s", c.Type)
	}
	return nil
}
