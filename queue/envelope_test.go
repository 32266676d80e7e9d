package queue

import (
	"encoding/json"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantErr    bool
		wantType   string
		wantID     string
		wantDryRun bool
		wantToken  string
	}{
		{
			name:       "full body",
			body:       `{"type":"rule_update","id":"wf-1","dry_run":true,"approval_token":"tok-9","payload":{}}`,
			wantType:   "rule_update",
			wantID:     "wf-1",
			wantDryRun: true,
			wantToken:  "tok-9",
		},
		{
			name:     "minimal body",
			body:     `{"type":"code_execution_request"}`,
			wantType: "code_execution_request",
		},
		{
			name:    "not json",
			body:    `{{not json`,
			wantErr: true,
		},
		{
			name:    "missing type",
			body:    `{"id":"wf-2","payload":{}}`,
			wantErr: true,
		},
		{
			name:    "type is not a string",
			body:    `{"type":42}`,
			wantErr: true,
		},
		{
			name:    "empty type",
			body:    `{"type":""}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := Decode(Message{ID: "m1", Queue: "jobs", Body: []byte(tt.body)})

			if tt.wantErr {
				if env.DecodeErr == nil {
					t.Fatal("expected decode error")
				}
				return
			}
			if env.DecodeErr != nil {
				t.Fatalf("unexpected decode error: %v", env.DecodeErr)
			}
			if env.Type != tt.wantType {
				t.Errorf("expected type %q, got %q", tt.wantType, env.Type)
			}
			if env.WorkflowID != tt.wantID {
				t.Errorf("expected workflow id %q, got %q", tt.wantID, env.WorkflowID)
			}
			if env.DryRun != tt.wantDryRun {
				t.Errorf("expected dry_run %v, got %v", tt.wantDryRun, env.DryRun)
			}
			if env.ApprovalToken != tt.wantToken {
				t.Errorf("expected approval token %q, got %q", tt.wantToken, env.ApprovalToken)
			}
		})
	}
}

func TestNewDLQBodyPreservesJSON(t *testing.T) {
	original := []byte(`{"type":"rule_update","id":"wf-3"}`)
	body := NewDLQBody("handler_error", original, "42")

	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded DLQBody
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.Reason != "handler_error" {
		t.Errorf("expected reason handler_error, got %q", decoded.Reason)
	}
	if decoded.OriginalMsgID != "42" {
		t.Errorf("expected original msg id 42, got %q", decoded.OriginalMsgID)
	}
	if string(decoded.OriginalBody) != string(original) {
		t.Errorf("original body not preserved: got %s", decoded.OriginalBody)
	}
}

func TestNewDLQBodyWrapsInvalidJSON(t *testing.T) {
	body := NewDLQBody("invalid_message", []byte("not json at all"), "7")

	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded struct {
		Reason       string `json:"reason"`
		OriginalBody string `json:"original_body"`
	}
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.OriginalBody != "not json at all" {
		t.Errorf("expected original carried as string, got %q", decoded.OriginalBody)
	}
}

func TestDLQName(t *testing.T) {
	if got := DLQName("job_requests"); got != "job_requests_dlq" {
		t.Errorf("expected job_requests_dlq, got %q", got)
	}
}
