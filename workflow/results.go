package workflow

import (
	"encoding/json"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"

	"github.com/c360studio/evoq/dispatch"
)

// Result envelope statuses on the wire.
const (
	ResultStatusSuccess = "success"
	ResultStatusFailed  = "failed"
)

// ResultEnvelope is published to a routing entry's result queue for every
// terminal workflow outcome, exactly once per outcome. Success carries the
// handler output; failure carries the classified error.
type ResultEnvelope struct {
	WorkflowID  string              `json:"workflow_id"`
	SourceQueue string              `json:"source_queue"`
	Status      string              `json:"status"`
	Result      map[string]any      `json:"result,omitempty"`
	Error       *dispatch.ErrorInfo `json:"error,omitempty"`
	Attempts    int                 `json:"attempts"`
	ExecutionMS int64               `json:"execution_ms"`
	Timestamp   time.Time           `json:"timestamp"`
}

// NewSuccessResult builds a success envelope.
func NewSuccessResult(workflowID, sourceQueue string, result map[string]any, attempts int, execution time.Duration) *ResultEnvelope {
	return &ResultEnvelope{
		WorkflowID:  workflowID,
		SourceQueue: sourceQueue,
		Status:      ResultStatusSuccess,
		Result:      result,
		Attempts:    attempts,
		ExecutionMS: execution.Milliseconds(),
		Timestamp:   time.Now().UTC(),
	}
}

// NewFailureResult builds a failure envelope from a classified error.
func NewFailureResult(workflowID, sourceQueue string, errInfo dispatch.ErrorInfo, attempts int, execution time.Duration) *ResultEnvelope {
	return &ResultEnvelope{
		WorkflowID:  workflowID,
		SourceQueue: sourceQueue,
		Status:      ResultStatusFailed,
		Error:       &errInfo,
		Attempts:    attempts,
		ExecutionMS: execution.Milliseconds(),
		Timestamp:   time.Now().UTC(),
	}
}

// Schema returns the message type for ResultEnvelope.
func (p *ResultEnvelope) Schema() message.Type {
	return ResultType
}

// Validate validates the ResultEnvelope.
func (p *ResultEnvelope) Validate() error {
	if p.WorkflowID == "" {
		return &ValidationError{Field: "workflow_id", Message: "workflow_id is required"}
	}
	if p.SourceQueue == "" {
		return &ValidationError{Field: "source_queue", Message: "source_queue is required"}
	}
	switch p.Status {
	case ResultStatusSuccess:
		if p.Error != nil {
			return &ValidationError{Field: "error", Message: "success envelope must not carry an error"}
		}
	case ResultStatusFailed:
		if p.Error == nil {
			return &ValidationError{Field: "error", Message: "failure envelope requires an error"}
		}
	default:
		return &ValidationError{Field: "status", Message: "status must be success or failed"}
	}
	return nil
}

// MarshalJSON marshals the ResultEnvelope to JSON.
func (p *ResultEnvelope) MarshalJSON() ([]byte, error) {
	type Alias ResultEnvelope
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the ResultEnvelope from JSON.
func (p *ResultEnvelope) UnmarshalJSON(data []byte) error {
	type Alias ResultEnvelope
	return json.Unmarshal(data, (*Alias)(p))
}

// ResultType is the message type for workflow result envelopes.
var ResultType = message.Type{
	Domain:   "evoq",
	Category: "workflow-result",
	Version:  "v1",
}

func init() {
	err := component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "evoq",
		Category:    "workflow-result",
		Version:     "v1",
		Description: "Terminal workflow outcome envelope",
		Factory:     func() any { return &ResultEnvelope{} },
	})
	if err != nil {
		panic("failed to register ResultEnvelope: " + err.Error())
	}
}
