package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/lastmile/core/factory"
	"github.com/kilianp07/lastmile/core/metrics"
	"github.com/kilianp07/lastmile/core/scheduler"
	"github.com/kilianp07/lastmile/infra/mqtt"
)

// EnvPrefix marks environment overrides. K_ASSIGNMENT__RADIUS_KM=8 sets
// assignment.radius_km.
const EnvPrefix = "K_"

type Config struct {
	Server     ServerConfig         `json:"server"`
	Store      factory.ModuleConfig `json:"store"`
	Channels   ChannelsConfig       `json:"channels"`
	MQTT       mqtt.Config          `json:"mqtt"`
	Auth       factory.ModuleConfig `json:"auth"`
	Assignment scheduler.Config     `json:"assignment"`
	Metrics    metrics.Config       `json:"metrics"`
	Logging    LoggingConfig        `json:"logging"`
	Sentry     SentryConfig         `json:"sentry"`
}

// Load reads path, applies environment overrides, defaults and validation.
// An empty path starts from defaults and environment only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		var parser koanf.Parser
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	if c.Store.Type == "" {
		c.Store.Type = "memory"
	}
	if c.Auth.Type == "" {
		c.Auth.Type = "static"
	}
	c.Channels.SetDefaults()
	if c.Channels.Type == ChannelsMQTT {
		c.MQTT.SetDefaults()
		if c.MQTT.Buffer <= 0 {
			c.MQTT.Buffer = c.Channels.Buffer
		}
	}
	c.Assignment.SetDefaults()
	c.Logging.SetDefaults()
	c.Sentry.SetDefaults()
}

// Validate checks every section and names the failing one.
func (c Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Channels.Validate(); err != nil {
		return fmt.Errorf("channels: %w", err)
	}
	if c.Channels.Type == ChannelsMQTT {
		if err := c.MQTT.Validate(); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if err := c.Assignment.Validate(); err != nil {
		return fmt.Errorf("assignment: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Sentry.Validate(); err != nil {
		return fmt.Errorf("sentry: %w", err)
	}
	return nil
}
