package housekeeping

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the housekeeping component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "housekeeping",
		Factory:     NewComponent,
		Schema:      housekeepingSchema,
		Type:        "processor",
		Protocol:    "timer",
		Domain:      "evoq",
		Description: "Expires approval tokens and evicts terminal workflow records",
		Version:     "0.1.0",
	})
}
