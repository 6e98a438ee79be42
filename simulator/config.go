package main

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds parameters for the simulator.
type Config struct {
	URL string
	// Tokens are the bearer credentials of the simulated drivers, one each.
	Tokens      []string
	TokenPrefix string
	FleetSize   int

	CenterLat float64
	CenterLng float64
	SpreadKm  float64

	SpeedKmh   float64
	Interval   time.Duration
	FailRate   float64
	Deliveries int
	Verbose    bool

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
}

// Validate checks the parameters are usable.
func (c *Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url scheme %q must be ws or wss", u.Scheme)
	}
	if len(c.Tokens) == 0 && (c.TokenPrefix == "" || c.FleetSize <= 0) {
		return fmt.Errorf("either -tokens or -token-prefix with -fleet-size is required")
	}
	if c.SpeedKmh <= 0 {
		return fmt.Errorf("speed must be positive")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if c.FailRate < 0 || c.FailRate > 1 {
		return fmt.Errorf("fail rate must be within [0,1]")
	}
	return nil
}

// StepKm is the distance covered between two position reports.
func (c Config) StepKm() float64 {
	return c.SpeedKmh * c.Interval.Hours()
}
