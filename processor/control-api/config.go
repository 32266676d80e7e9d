package controlapi

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
)

// controlAPISchema defines the configuration schema.
var controlAPISchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the control-api component.
type Config struct {
	// MaxTokenTTL caps the ttl_seconds a caller may request when issuing an
	// approval token.
	MaxTokenTTL string `json:"max_token_ttl" schema:"type:string,description:Upper bound on requested approval token lifetimes,category:advanced,default:1h"`

	// DisableMetrics hides the Prometheus exposition endpoint.
	DisableMetrics bool `json:"disable_metrics" schema:"type:bool,description:Hide the Prometheus metrics endpoint,category:advanced,default:false"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		MaxTokenTTL: "1h",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.MaxTokenTTL != "" {
		d, err := time.ParseDuration(c.MaxTokenTTL)
		if err != nil {
			return fmt.Errorf("invalid max_token_ttl: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("max_token_ttl must be positive")
		}
	}
	return nil
}

// GetMaxTokenTTL returns the requested-TTL ceiling.
// Returns default 1h if parsing fails.
func (c *Config) GetMaxTokenTTL() time.Duration {
	if c.MaxTokenTTL == "" {
		return time.Hour
	}
	d, err := time.ParseDuration(c.MaxTokenTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}
