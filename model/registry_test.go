package model

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry()

	caps := r.ListCapabilities()
	if len(caps) != 4 {
		t.Errorf("expected 4 capabilities, got %d", len(caps))
	}

	endpoints := r.ListEndpoints()
	if len(endpoints) < 3 {
		t.Errorf("expected at least 3 endpoints, got %d", len(endpoints))
	}

	if err := r.Validate(); err != nil {
		t.Errorf("default registry should validate: %v", err)
	}
}

func TestRegistryResolve(t *testing.T) {
	r := NewDefaultRegistry()

	tests := []struct {
		capability Capability
		expected   string
	}{
		{CapabilityPlanning, "claude-sonnet"},
		{CapabilityCoding, "claude-sonnet"},
		{CapabilityReviewing, "claude-sonnet"},
		{CapabilityFast, "claude-haiku"},
		{Capability("unknown"), "qwen"}, // Falls back to default
	}

	for _, tt := range tests {
		t.Run(string(tt.capability), func(t *testing.T) {
			got := r.Resolve(tt.capability)
			if got != tt.expected {
				t.Errorf("Resolve(%q) = %q, want %q", tt.capability, got, tt.expected)
			}
		})
	}
}

func TestRegistryGetFallbackChain(t *testing.T) {
	r := NewDefaultRegistry()

	chain := r.GetFallbackChain(CapabilityReviewing)

	if len(chain) < 2 {
		t.Fatalf("expected at least 2 models in chain, got %d", len(chain))
	}
	if chain[0] != "claude-sonnet" {
		t.Errorf("first in chain should be claude-sonnet, got %q", chain[0])
	}

	hasQwen := false
	for _, m := range chain {
		if m == "qwen" {
			hasQwen = true
			break
		}
	}
	if !hasQwen {
		t.Error("expected qwen in fallback chain")
	}

	// Unknown capability falls back to the default model.
	chain = r.GetFallbackChain(Capability("unknown"))
	if len(chain) != 1 || chain[0] != "qwen" {
		t.Errorf("unknown capability should yield default chain, got %v", chain)
	}
}

func TestRegistryForWorkload(t *testing.T) {
	r := NewDefaultRegistry()

	tests := []struct {
		workload string
		expected string
	}{
		{"rule-validation", "claude-haiku"},   // fast capability
		{"config-migration", "claude-sonnet"}, // planning capability
		{"code-analysis", "claude-sonnet"},    // reviewing capability
		{"unknown", "claude-haiku"},           // falls back to fast
	}

	for _, tt := range tests {
		t.Run(tt.workload, func(t *testing.T) {
			got := r.ForWorkload(tt.workload)
			if got != tt.expected {
				t.Errorf("ForWorkload(%q) = %q, want %q", tt.workload, got, tt.expected)
			}
		})
	}
}

func TestRegistryGetEndpoint(t *testing.T) {
	r := NewDefaultRegistry()

	endpoint := r.GetEndpoint("qwen")
	if endpoint == nil {
		t.Fatal("expected qwen endpoint to exist")
	}
	if endpoint.Provider != "ollama" {
		t.Errorf("expected provider ollama, got %q", endpoint.Provider)
	}
	if endpoint.Model == "" {
		t.Error("expected model to be set")
	}

	if missing := r.GetEndpoint("nonexistent"); missing != nil {
		t.Error("expected nil for nonexistent endpoint")
	}
}

func TestRegistrySetOperations(t *testing.T) {
	r := NewDefaultRegistry()

	r.SetCapability(CapabilityFast, &CapabilityConfig{
		Description: "Replaced",
		Preferred:   []string{"model-a"},
		Fallback:    []string{"model-b"},
	})
	if got := r.Resolve(CapabilityFast); got != "model-a" {
		t.Errorf("expected model-a after SetCapability, got %q", got)
	}

	r.SetEndpoint("model-a", &EndpointConfig{
		Provider:  "custom",
		URL:       "http://custom.example.com",
		Model:     "custom-v1",
		MaxTokens: 4096,
	})
	endpoint := r.GetEndpoint("model-a")
	if endpoint == nil {
		t.Fatal("expected model-a endpoint to exist")
	}
	if endpoint.URL != "http://custom.example.com" {
		t.Errorf("unexpected URL: %q", endpoint.URL)
	}

	r.SetDefault("model-a")
	if got := r.Resolve(Capability("unknown")); got != "model-a" {
		t.Errorf("expected model-a for unknown capability, got %q", got)
	}
	if r.Default() != "model-a" {
		t.Errorf("Default() = %q, want model-a", r.Default())
	}
}

func TestRegistryJSONRoundtrip(t *testing.T) {
	original := NewDefaultRegistry()

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	restored := &Registry{}
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	origCaps := original.ListCapabilities()
	restCaps := restored.ListCapabilities()
	if len(origCaps) != len(restCaps) {
		t.Errorf("capability count mismatch: %d vs %d", len(origCaps), len(restCaps))
	}

	if got := restored.Resolve(CapabilityReviewing); got != "claude-sonnet" {
		t.Errorf("expected claude-sonnet for reviewing, got %q", got)
	}
}

func TestRegistryValidate(t *testing.T) {
	tests := []struct {
		name      string
		registry  *Registry
		wantError bool
		errorMsg  string
	}{
		{
			name:      "default registry is valid",
			registry:  NewDefaultRegistry(),
			wantError: false,
		},
		{
			name: "missing preferred model",
			registry: NewRegistry(
				map[Capability]*CapabilityConfig{
					CapabilityCoding: {
						Preferred: []string{"missing-model"},
					},
				},
				map[string]*EndpointConfig{
					"existing": {Provider: "test", Model: "test"},
				},
			),
			wantError: true,
			errorMsg:  "preferred model \"missing-model\" not found",
		},
		{
			name: "missing fallback model",
			registry: NewRegistry(
				map[Capability]*CapabilityConfig{
					CapabilityCoding: {
						Preferred: []string{"valid"},
						Fallback:  []string{"missing-fallback"},
					},
				},
				map[string]*EndpointConfig{
					"valid": {Provider: "test", Model: "test"},
				},
			),
			wantError: true,
			errorMsg:  "fallback model \"missing-fallback\" not found",
		},
		{
			name: "missing default model",
			registry: func() *Registry {
				r := NewRegistry(
					map[Capability]*CapabilityConfig{},
					map[string]*EndpointConfig{
						"existing": {Provider: "test", Model: "test"},
					},
				)
				r.SetDefault("nonexistent")
				return r
			}(),
			wantError: true,
			errorMsg:  "default model \"nonexistent\" not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.registry.Validate()
			if tt.wantError {
				if err == nil {
					t.Error("expected validation error, got nil")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("error message should contain %q, got %q", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("unexpected validation error: %v", err)
				}
			}
		})
	}
}

func TestApplyUpdate(t *testing.T) {
	r := NewDefaultRegistry()

	tests := []struct {
		name    string
		update  Update
		wantErr bool
	}{
		{
			name: "set capability",
			update: Update{
				Operation:  OpSetCapability,
				Capability: "fast",
				Preferred:  []string{"claude-haiku"},
				Fallback:   []string{"qwen"},
			},
		},
		{
			name: "set endpoint",
			update: Update{
				Operation: OpSetEndpoint,
				Endpoint:  "llama",
				Provider:  "ollama",
				URL:       "http://localhost:11434/v1",
				Model:     "llama3.2",
				MaxTokens: 128000,
			},
		},
		{
			name:   "set default",
			update: Update{Operation: OpSetDefault, Model: "claude-haiku"},
		},
		{
			name:    "unknown operation",
			update:  Update{Operation: "drop_everything"},
			wantErr: true,
		},
		{
			name:    "missing operation",
			update:  Update{},
			wantErr: true,
		},
		{
			name:    "set capability without preferred",
			update:  Update{Operation: OpSetCapability, Capability: "fast"},
			wantErr: true,
		},
		{
			name:    "set capability with unknown capability",
			update:  Update{Operation: OpSetCapability, Capability: "singing", Preferred: []string{"x"}},
			wantErr: true,
		},
		{
			name:    "set endpoint without provider",
			update:  Update{Operation: OpSetEndpoint, Endpoint: "x", Model: "y"},
			wantErr: true,
		},
		{
			name:    "set default without model",
			update:  Update{Operation: OpSetDefault},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ApplyUpdate(tt.update)
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}

	if got := r.Default(); got != "claude-haiku" {
		t.Errorf("set_default did not apply, got %q", got)
	}
	if ep := r.GetEndpoint("llama"); ep == nil || ep.Model != "llama3.2" {
		t.Errorf("set_endpoint did not apply: %+v", ep)
	}
}

func TestApplyUpdateIdempotent(t *testing.T) {
	r := NewDefaultRegistry()
	update := Update{
		Operation:  OpSetCapability,
		Capability: "reviewing",
		Preferred:  []string{"claude-sonnet"},
		Fallback:   []string{"qwen"},
	}

	if err := r.ApplyUpdate(update); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	first, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	if err := r.ApplyUpdate(update); err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
	second, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	if string(first) != string(second) {
		t.Error("applying the same update twice must not change registry state")
	}
}
