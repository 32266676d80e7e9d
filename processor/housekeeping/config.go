package housekeeping

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
)

// housekeepingSchema defines the configuration schema.
var housekeepingSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the housekeeping component.
type Config struct {
	// GCInterval is how often the pass runs.
	GCInterval time.Duration `json:"gc_interval"`

	// TerminalRetention is how long completed and failed workflow records
	// stay visible before eviction.
	TerminalRetention time.Duration `json:"terminal_retention"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		GCInterval:        30 * time.Second,
		TerminalRetention: time.Hour,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.GCInterval <= 0 {
		return fmt.Errorf("gc_interval must be positive")
	}
	if c.TerminalRetention <= 0 {
		return fmt.Errorf("terminal_retention must be positive")
	}
	return nil
}
