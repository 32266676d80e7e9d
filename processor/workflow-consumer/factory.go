package workflowconsumer

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the workflow-consumer component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "workflow-consumer",
		Factory:     NewComponent,
		Schema:      workflowConsumerSchema,
		Type:        "processor",
		Protocol:    "queue",
		Domain:      "evoq",
		Description: "Dispatches queued workflow messages to typed handlers with retries, approval gating, and dead-lettering",
		Version:     "0.1.0",
	})
}
