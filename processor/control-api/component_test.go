package controlapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/c360studio/semstreams/component"
)

func TestNewComponent_Unit(t *testing.T) {
	tests := []struct {
		name    string
		config  json.RawMessage
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid empty config",
			config: json.RawMessage(`{}`),
		},
		{
			name:    "invalid json",
			config:  json.RawMessage(`{not json`),
			wantErr: true,
			errMsg:  "unmarshal config",
		},
		{
			name:    "unparseable ttl",
			config:  json.RawMessage(`{"max_token_ttl":"soon"}`),
			wantErr: true,
			errMsg:  "invalid max_token_ttl",
		},
		{
			name:    "negative ttl",
			config:  json.RawMessage(`{"max_token_ttl":"-1m"}`),
			wantErr: true,
			errMsg:  "must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comp, err := NewComponent(tt.config, component.Dependencies{Logger: slog.Default()})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("error %q does not contain %q", err.Error(), tt.errMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if comp == nil {
				t.Fatal("expected component")
			}
		})
	}
}

func TestDefaultsApplied(t *testing.T) {
	comp, err := NewComponent(json.RawMessage(`{}`), component.Dependencies{Logger: slog.Default()})
	if err != nil {
		t.Fatalf("NewComponent: %v", err)
	}
	c := comp.(*Component)
	if c.config.MaxTokenTTL != "1h" {
		t.Errorf("expected default max_token_ttl 1h, got %s", c.config.MaxTokenTTL)
	}
	if got := c.config.GetMaxTokenTTL(); got != time.Hour {
		t.Errorf("GetMaxTokenTTL() = %s, want 1h", got)
	}
}

func TestComponent_Lifecycle(t *testing.T) {
	c := newTestComponent(t)

	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if c.IsRunning() {
		t.Error("component should not report running before Start")
	}
	if err := c.Stop(time.Second); err != nil {
		t.Errorf("Stop before Start should be a no-op, got %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.IsRunning() {
		t.Error("component should report running after Start")
	}
	if err := c.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}

	health := c.Health()
	if !health.Healthy || health.Status != "running" {
		t.Errorf("expected healthy running, got %+v", health)
	}

	if err := c.Stop(time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.IsRunning() {
		t.Error("component should not report running after Stop")
	}
	if err := c.Stop(time.Second); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}

	health = c.Health()
	if health.Healthy || health.Status != "stopped" {
		t.Errorf("expected stopped, got %+v", health)
	}
}

func TestDataFlowTracksRequests(t *testing.T) {
	c := newTestComponent(t)
	if !c.DataFlow().LastActivity.IsZero() {
		t.Error("expected zero activity before any request")
	}

	req := httptest.NewRequest(http.MethodGet, "/control-api/rules", nil)
	w := httptest.NewRecorder()
	c.handleGetRules(w, req)

	if c.DataFlow().LastActivity.IsZero() {
		t.Error("expected activity after a served request")
	}
	if c.requestsServed.Load() != 1 {
		t.Errorf("requestsServed = %d, want 1", c.requestsServed.Load())
	}
}

func TestMetaAndPorts(t *testing.T) {
	c := newTestComponent(t)

	meta := c.Meta()
	if meta.Name != "control-api" || meta.Type != "processor" {
		t.Errorf("unexpected metadata: %+v", meta)
	}
	if len(c.InputPorts()) != 0 || len(c.OutputPorts()) != 0 {
		t.Error("control-api should expose no queue ports")
	}
	if c.ConfigSchema().Properties == nil {
		t.Error("expected generated config schema")
	}
}
