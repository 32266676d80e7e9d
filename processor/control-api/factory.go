package controlapi

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the control-api component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "control-api",
		Factory:     NewComponent,
		Schema:      controlAPISchema,
		Type:        "processor",
		Protocol:    "http",
		Domain:      "evoq",
		Description: "HTTP endpoints for approvals, workflow snapshots, safety rules, and metrics",
		Version:     "0.1.0",
	})
}
