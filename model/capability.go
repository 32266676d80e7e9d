// Package model holds the platform's LLM routing table: capabilities map
// workloads to preferred models, endpoints describe where those models live.
// The llm-config-manager handler mutates this registry through queue-driven
// updates; nothing in this process ever calls a model endpoint.
package model

// Capability is a semantic model-selection class. Workloads ask for
// "reviewing" or "fast" instead of naming a concrete model.
type Capability string

const (
	// CapabilityPlanning is for evolution planning and architecture decisions.
	CapabilityPlanning Capability = "planning"

	// CapabilityCoding is for code generation and refactoring.
	CapabilityCoding Capability = "coding"

	// CapabilityReviewing is for code review and quality analysis.
	CapabilityReviewing Capability = "reviewing"

	// CapabilityFast is for cheap classification and validation passes.
	CapabilityFast Capability = "fast"
)

// WorkloadCapabilities maps dispatcher workloads to their default capability.
// Used when an update or analysis request names a workload rather than a
// capability.
var WorkloadCapabilities = map[string]Capability{
	"rule-validation":  CapabilityFast,
	"config-migration": CapabilityPlanning,
	"code-analysis":    CapabilityReviewing,
	"code-generation":  CapabilityCoding,
}

// CapabilityForWorkload returns the default capability for a workload.
// Unknown workloads fall back to CapabilityFast.
func CapabilityForWorkload(workload string) Capability {
	if cap, ok := WorkloadCapabilities[workload]; ok {
		return cap
	}
	return CapabilityFast
}

// IsValid checks if a capability string is a known capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityPlanning, CapabilityCoding, CapabilityReviewing, CapabilityFast:
		return true
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// ParseCapability converts a string to a Capability, returning empty for
// invalid values.
func ParseCapability(s string) Capability {
	cap := Capability(s)
	if cap.IsValid() {
		return cap
	}
	return ""
}
