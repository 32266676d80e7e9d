// Package housekeeping provides the background pass that expires approval
// tokens and evicts terminal workflow records once their retention lapses.
package housekeeping

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
	"github.com/c360studio/evoq/metrics"
	"github.com/c360studio/evoq/workflow"
)

// Component implements the housekeeping processor.
type Component struct {
	name   string
	config Config
	logger *slog.Logger

	approvals *approval.Service
	registry  *workflow.Registry

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	passesRun      atomic.Int64
	tokensExpired  atomic.Int64
	recordsEvicted atomic.Int64
	lastPassMu     sync.RWMutex
	lastPass       time.Time
}

// NewComponent creates a new housekeeping processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults
	defaults := DefaultConfig()
	if config.GCInterval == 0 {
		config.GCInterval = defaults.GCInterval
	}
	if config.TerminalRetention == 0 {
		config.TerminalRetention = defaults.TerminalRetention
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:      "housekeeping",
		config:    config,
		logger:    deps.GetLogger(),
		approvals: approval.Global(),
		registry:  workflow.GlobalRegistry(),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized housekeeping",
		"gc_interval", c.config.GCInterval,
		"terminal_retention", c.config.TerminalRetention)
	return nil
}

// Start begins the periodic pass.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}

	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.gcLoop(subCtx)

	c.logger.Info("housekeeping started",
		"gc_interval", c.config.GCInterval,
		"terminal_retention", c.config.TerminalRetention)

	return nil
}

// gcLoop runs a pass immediately, then on every tick.
func (c *Component) gcLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.GCInterval)
	defer ticker.Stop()

	c.runPass()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runPass()
		}
	}
}

// runPass expires approval tokens past their grace window, evicts terminal
// workflow records past retention, and refreshes the state gauges.
func (c *Component) runPass() {
	c.passesRun.Add(1)
	c.updateLastPass()

	expired := c.approvals.Sweep()
	if expired > 0 {
		c.tokensExpired.Add(int64(expired))
	}

	evicted := c.registry.EvictTerminal(c.config.TerminalRetention)
	if evicted > 0 {
		c.recordsEvicted.Add(int64(evicted))
	}

	metrics.SetApprovalTokensActive(c.approvals.Len())

	counts := map[workflow.Status]int{}
	for _, rec := range c.registry.Snapshot() {
		counts[rec.Status]++
	}
	for _, status := range []workflow.Status{
		workflow.StatusPending,
		workflow.StatusRunning,
		workflow.StatusCompleted,
		workflow.StatusFailed,
	} {
		metrics.SetWorkflowsByStatus(string(status), counts[status])
	}

	c.logger.Debug("housekeeping pass complete",
		"tokens_expired", expired,
		"records_evicted", evicted,
		"records_held", c.registry.Len())
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	if c.cancel != nil {
		c.cancel()
	}

	c.running = false
	c.logger.Info("housekeeping stopped",
		"passes_run", c.passesRun.Load(),
		"tokens_expired", c.tokensExpired.Load(),
		"records_evicted", c.recordsEvicted.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "housekeeping",
		Type:        "processor",
		Description: "Expires approval tokens and evicts terminal workflow records",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Inputs))
	for i, portDef := range c.config.Ports.Inputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionInput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Outputs))
	for i, portDef := range c.config.Ports.Outputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionOutput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return housekeepingSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: 0,
		Uptime:     time.Since(startTime),
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
		LastActivity:      c.getLastPass(),
	}
}

// IsRunning returns whether the component is currently running.
func (c *Component) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

func (c *Component) updateLastPass() {
	c.lastPassMu.Lock()
	c.lastPass = time.Now()
	c.lastPassMu.Unlock()
}

func (c *Component) getLastPass() time.Time {
	c.lastPassMu.RLock()
	defer c.lastPassMu.RUnlock()
	return c.lastPass
}
