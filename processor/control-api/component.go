// Package controlapi provides the HTTP surface of the dispatcher: approval
// token issue and validation, workflow registry snapshots, the active safety
// rule set, and Prometheus exposition. The platform's service manager owns
// the listener and mounts the component under its prefix.
package controlapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/evoq/approval"
	"github.com/c360studio/evoq/rules"
	"github.com/c360studio/evoq/workflow"
)

// Component implements the control-api processor.
type Component struct {
	name   string
	config Config
	logger *slog.Logger

	approvals  *approval.Service
	registry   *workflow.Registry
	rulesStore *rules.Store

	// Lifecycle state machine
	// States: 0=stopped, 1=starting, 2=running, 3=stopping
	state     atomic.Int32
	startTime time.Time
	mu        sync.RWMutex

	// Metrics
	requestsServed atomic.Int64
	lastRequestMu  sync.RWMutex
	lastRequest    time.Time
}

const (
	stateStopped  = 0
	stateStarting = 1
	stateRunning  = 2
	stateStopping = 3
)

// NewComponent creates a new control-api component.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults
	defaults := DefaultConfig()
	if config.MaxTokenTTL == "" {
		config.MaxTokenTTL = defaults.MaxTokenTTL
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       "control-api",
		config:     config,
		logger:     deps.GetLogger(),
		approvals:  approval.Global(),
		registry:   workflow.GlobalRegistry(),
		rulesStore: rules.Global(),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized control-api",
		"max_token_ttl", c.config.MaxTokenTTL,
		"metrics", !c.config.DisableMetrics)
	return nil
}

// Start marks the component running. The handlers themselves are mounted by
// the service manager through RegisterHTTPHandlers and serve regardless of
// lifecycle state; Start exists for health reporting.
func (c *Component) Start(_ context.Context) error {
	if !c.state.CompareAndSwap(stateStopped, stateStarting) {
		currentState := c.state.Load()
		if currentState == stateRunning || currentState == stateStarting {
			return fmt.Errorf("component already running or starting")
		}
		return fmt.Errorf("component in invalid state: %d", currentState)
	}

	c.mu.Lock()
	c.startTime = time.Now()
	c.mu.Unlock()

	c.state.Store(stateRunning)

	c.logger.Info("control-api started",
		"max_token_ttl", c.config.MaxTokenTTL)

	return nil
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	if !c.state.CompareAndSwap(stateRunning, stateStopping) {
		currentState := c.state.Load()
		if currentState == stateStopped || currentState == stateStopping {
			return nil
		}
		return fmt.Errorf("component in unexpected state: %d", currentState)
	}

	c.state.Store(stateStopped)

	c.logger.Info("control-api stopped",
		"requests_served", c.requestsServed.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "control-api",
		Type:        "processor",
		Description: "HTTP endpoints for approvals, workflow snapshots, safety rules, and metrics",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	return []component.Port{}
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	return []component.Port{}
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return controlAPISchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	state := c.state.Load()
	running := state == stateRunning

	c.mu.RLock()
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	switch state {
	case stateStarting:
		status = "starting"
	case stateRunning:
		status = "running"
	case stateStopping:
		status = "stopping"
	}

	return component.HealthStatus{
		Healthy:   running,
		LastCheck: time.Now(),
		Uptime:    time.Since(startTime),
		Status:    status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		LastActivity: c.getLastRequest(),
	}
}

// IsRunning returns whether the component is currently running.
func (c *Component) IsRunning() bool {
	return c.state.Load() == stateRunning
}

func (c *Component) noteRequest() {
	c.requestsServed.Add(1)
	c.lastRequestMu.Lock()
	c.lastRequest = time.Now()
	c.lastRequestMu.Unlock()
}

func (c *Component) getLastRequest() time.Time {
	c.lastRequestMu.RLock()
	defer c.lastRequestMu.RUnlock()
	return c.lastRequest
}
