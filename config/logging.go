package config

import (
	"fmt"
	"os"
)

// LoggingConfig defines the process logger output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level"`
	// Console switches from JSON lines to a human readable writer.
	Console bool `json:"console"`
}

// SetDefaults applies sane defaults. APP_ENV=dev turns on console output.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if os.Getenv("APP_ENV") == "dev" {
		c.Console = true
	}
}

// Validate checks mandatory fields.
func (c LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("unknown level %s", c.Level)
}
