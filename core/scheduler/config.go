package scheduler

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the auto-assignment parameters.
type Config struct {
	// Disabled stops the periodic loop. Tick still works when called directly.
	Disabled        bool    `json:"disabled" yaml:"disabled"`
	IntervalSeconds int     `json:"interval_seconds" yaml:"interval_seconds"`
	RadiusKm        float64 `json:"radius_km" yaml:"radius_km"`
	StarvationTicks int     `json:"starvation_ticks" yaml:"starvation_ticks"`
	RadiusGrowth    float64 `json:"radius_growth" yaml:"radius_growth"`
	MaxRadiusKm     float64 `json:"max_radius_km" yaml:"max_radius_km"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.IntervalSeconds <= 0 {
		c.IntervalSeconds = 30
	}
	if c.RadiusKm <= 0 {
		c.RadiusKm = 5
	}
	if c.StarvationTicks <= 0 {
		c.StarvationTicks = 5
	}
	if c.RadiusGrowth <= 0 {
		c.RadiusGrowth = 1.5
	}
	if c.MaxRadiusKm <= 0 {
		c.MaxRadiusKm = 20
	}
}

// Validate checks the parameters are consistent.
func (c Config) Validate() error {
	if c.RadiusGrowth < 1 {
		return fmt.Errorf("scheduler: radius_growth %.2f must be >= 1", c.RadiusGrowth)
	}
	if c.MaxRadiusKm < c.RadiusKm {
		return fmt.Errorf("scheduler: max_radius_km %.1f below radius_km %.1f", c.MaxRadiusKm, c.RadiusKm)
	}
	return nil
}

// Interval returns the tick period.
func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// DecodeConfig reads a Config in the given format.
func DecodeConfig(r io.Reader, format string) (Config, error) {
	var cfg Config
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
			return cfg, err
		}
	case "json":
		if err := json.NewDecoder(r).Decode(&cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported format: %s", format)
	}
	cfg.SetDefaults()
	return cfg, cfg.Validate()
}
