package housekeeping

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/evoq/approval"
	"github.com/c360studio/evoq/workflow"
)

func TestNewComponent_Unit(t *testing.T) {
	tests := []struct {
		name      string
		rawConfig json.RawMessage
		wantErr   bool
	}{
		{
			name:      "invalid JSON",
			rawConfig: json.RawMessage(`{invalid json}`),
			wantErr:   true,
		},
		{
			name:      "negative gc_interval",
			rawConfig: json.RawMessage(`{"gc_interval":-1}`),
			wantErr:   true,
		},
		{
			name:      "negative terminal_retention",
			rawConfig: json.RawMessage(`{"terminal_retention":-1}`),
			wantErr:   true,
		},
		{
			name:      "empty config uses defaults",
			rawConfig: json.RawMessage(`{}`),
			wantErr:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := component.Dependencies{
				Logger: slog.Default(),
			}

			_, err := NewComponent(tt.rawConfig, deps)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewComponent() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultsApplied(t *testing.T) {
	comp, err := NewComponent(json.RawMessage(`{}`), component.Dependencies{})
	if err != nil {
		t.Fatalf("NewComponent: %v", err)
	}
	c := comp.(*Component)
	if c.config.GCInterval != 30*time.Second {
		t.Errorf("expected default gc_interval 30s, got %s", c.config.GCInterval)
	}
	if c.config.TerminalRetention != time.Hour {
		t.Errorf("expected default terminal_retention 1h, got %s", c.config.TerminalRetention)
	}
}

func TestComponent_Lifecycle(t *testing.T) {
	c := &Component{
		name:   "housekeeping",
		logger: slog.Default(),
		config: Config{
			GCInterval:        time.Hour,
			TerminalRetention: time.Hour,
		},
		approvals: approval.NewService(),
		registry:  workflow.NewRegistry(),
	}

	if err := c.Initialize(); err != nil {
		t.Errorf("Initialize() error = %v, want nil", err)
	}
	if err := c.Stop(time.Second); err != nil {
		t.Errorf("Stop() before Start error = %v, want nil", err)
	}
	if c.IsRunning() {
		t.Error("component should not run before Start")
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !c.IsRunning() {
		t.Error("component should report running after Start")
	}
	if err := c.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}

	health := c.Health()
	if !health.Healthy || health.Status != "running" {
		t.Errorf("unexpected health while running: %+v", health)
	}

	if err := c.Stop(time.Second); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if c.IsRunning() {
		t.Error("component should not report running after Stop")
	}
}

func TestRunPass(t *testing.T) {
	approvals := approval.NewService(approval.WithGrace(0))
	registry := workflow.NewRegistry()

	c := &Component{
		name:   "housekeeping",
		logger: slog.Default(),
		config: Config{
			GCInterval:        time.Hour,
			TerminalRetention: time.Millisecond,
		},
		approvals: approvals,
		registry:  registry,
	}

	// One token already past expiry, one still live.
	approvals.IssueWithTTL("rule_update", "old", time.Millisecond)
	approvals.Issue("rule_update", "fresh")

	// One terminal record past retention, one still pending.
	registry.CreateOrGet("done-1", "rule_update", "rule_updates", "digest")
	if _, ok := registry.BeginAttempt("done-1", 1); !ok {
		t.Fatal("BeginAttempt failed")
	}
	if err := registry.Transition("done-1", workflow.StatusRunning, workflow.StatusCompleted, nil); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	registry.CreateOrGet("pend-1", "rule_update", "rule_updates", "digest")

	time.Sleep(5 * time.Millisecond)
	c.runPass()

	if got := c.passesRun.Load(); got != 1 {
		t.Errorf("expected 1 pass, got %d", got)
	}
	if got := c.tokensExpired.Load(); got != 1 {
		t.Errorf("expected 1 expired token, got %d", got)
	}
	if got := approvals.Len(); got != 1 {
		t.Errorf("expected the live token to survive, table holds %d", got)
	}
	if got := c.recordsEvicted.Load(); got != 1 {
		t.Errorf("expected 1 evicted record, got %d", got)
	}
	if _, ok := registry.Get("done-1"); ok {
		t.Error("terminal record past retention should be evicted")
	}
	if _, ok := registry.Get("pend-1"); !ok {
		t.Error("pending record must survive eviction")
	}
}

func TestGCLoopTicks(t *testing.T) {
	c := &Component{
		name:   "housekeeping",
		logger: slog.Default(),
		config: Config{
			GCInterval:        10 * time.Millisecond,
			TerminalRetention: time.Hour,
		},
		approvals: approval.NewService(),
		registry:  workflow.NewRegistry(),
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		if err := c.Stop(time.Second); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.passesRun.Load() >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := c.passesRun.Load(); got < 2 {
		t.Fatalf("expected at least 2 passes (immediate + tick), got %d", got)
	}
	if c.DataFlow().LastActivity.IsZero() {
		t.Error("expected LastActivity after a pass")
	}
}

func TestMetaAndPorts(t *testing.T) {
	comp, err := NewComponent(json.RawMessage(`{}`), component.Dependencies{})
	if err != nil {
		t.Fatalf("NewComponent: %v", err)
	}

	meta := comp.Meta()
	if meta.Name != "housekeeping" {
		t.Errorf("expected Name 'housekeeping', got %s", meta.Name)
	}
	if meta.Type != "processor" {
		t.Errorf("expected Type 'processor', got %s", meta.Type)
	}
	if got := len(comp.InputPorts()); got != 0 {
		t.Errorf("expected no input ports, got %d", got)
	}
	if got := len(comp.OutputPorts()); got != 0 {
		t.Errorf("expected no output ports, got %d", got)
	}
	if comp.ConfigSchema().Properties == nil {
		t.Error("expected schema properties")
	}
}
