package model

import "fmt"

// Operations accepted in llm_config_update payloads.
const (
	OpSetCapability = "set_capability"
	OpSetEndpoint   = "set_endpoint"
	OpSetDefault    = "set_default"
)

// Update is the decoded payload of an llm_config_update message. One
// operation per message; applying the same update twice leaves the registry
// in the same state.
type Update struct {
	Operation string `json:"operation"`

	// set_capability fields.
	Capability  string   `json:"capability,omitempty"`
	Description string   `json:"description,omitempty"`
	Preferred   []string `json:"preferred,omitempty"`
	Fallback    []string `json:"fallback,omitempty"`

	// set_endpoint fields. Model doubles as the target for set_default.
	Endpoint  string `json:"endpoint,omitempty"`
	Provider  string `json:"provider,omitempty"`
	URL       string `json:"url,omitempty"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// Validate checks the fields the operation requires.
func (u Update) Validate() error {
	switch u.Operation {
	case OpSetCapability:
		if ParseCapability(u.Capability) == "" {
			return fmt.Errorf("set_capability: unknown capability %q", u.Capability)
		}
		if len(u.Preferred) == 0 {
			return fmt.Errorf("set_capability: preferred must name at least one model")
		}
	case OpSetEndpoint:
		if u.Endpoint == "" {
			return fmt.Errorf("set_endpoint: endpoint name is required")
		}
		if u.Provider == "" {
			return fmt.Errorf("set_endpoint: provider is required")
		}
		if u.Model == "" {
			return fmt.Errorf("set_endpoint: model is required")
		}
	case OpSetDefault:
		if u.Model == "" {
			return fmt.Errorf("set_default: model is required")
		}
	case "":
		return fmt.Errorf("operation is required")
	default:
		return fmt.Errorf("unknown operation %q", u.Operation)
	}
	return nil
}

// ApplyUpdate validates and applies one update.
func (r *Registry) ApplyUpdate(u Update) error {
	if err := u.Validate(); err != nil {
		return err
	}

	switch u.Operation {
	case OpSetCapability:
		r.SetCapability(Capability(u.Capability), &CapabilityConfig{
			Description: u.Description,
			Preferred:   u.Preferred,
			Fallback:    u.Fallback,
		})
	case OpSetEndpoint:
		r.SetEndpoint(u.Endpoint, &EndpointConfig{
			Provider:  u.Provider,
			URL:       u.URL,
			Model:     u.Model,
			MaxTokens: u.MaxTokens,
		})
	case OpSetDefault:
		r.SetDefault(u.Model)
	}
	return nil
}
