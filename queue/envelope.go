package queue

import (
	"encoding/json"
	"fmt"
)

// Envelope is a read message with its body decoded into the typed form the
// router consumes. A message whose body cannot be decoded still yields an
// envelope, with DecodeErr set, so the caller can dead-letter it.
type Envelope struct {
	Msg Message

	// Body is the decoded payload map.
	Body map[string]any
	// Type is the body's type discriminator.
	Type string
	// WorkflowID is the body's id field when present.
	WorkflowID string
	// DryRun requests validation without side effects.
	DryRun bool
	// ApprovalToken is the one-shot token attached to gated workflows.
	ApprovalToken string

	// DecodeErr is set when the body is not a well-formed typed message.
	DecodeErr error
}

// Decode builds an envelope from a raw message. Decode never fails; a
// malformed body is reported through DecodeErr on the returned envelope.
func Decode(msg Message) Envelope {
	env := Envelope{Msg: msg}

	var body map[string]any
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		env.DecodeErr = fmt.Errorf("message body is not valid JSON: %w", err)
		return env
	}
	env.Body = body

	msgType, ok := body["type"].(string)
	if !ok || msgType == "" {
		env.DecodeErr = fmt.Errorf("message body has no type discriminator")
		return env
	}
	env.Type = msgType

	if id, ok := body["id"].(string); ok {
		env.WorkflowID = id
	}
	if dry, ok := body["dry_run"].(bool); ok {
		env.DryRun = dry
	}
	if tok, ok := body["approval_token"].(string); ok {
		env.ApprovalToken = tok
	}
	return env
}

// DLQBody is the annotated body placed on a dead-letter queue.
type DLQBody struct {
	Reason        string          `json:"reason"`
	OriginalBody  json.RawMessage `json:"original_body"`
	OriginalMsgID string          `json:"original_msg_id"`
}

// NewDLQBody wraps an original message for its dead-letter queue. Bodies
// that are not valid JSON are carried as a JSON string so the annotation
// itself always marshals.
func NewDLQBody(reason string, original []byte, originalMsgID string) DLQBody {
	body := DLQBody{Reason: reason, OriginalMsgID: originalMsgID}
	if json.Valid(original) {
		body.OriginalBody = json.RawMessage(original)
	} else {
		quoted, _ := json.Marshal(string(original))
		body.OriginalBody = quoted
	}
	return body
}
