// Package workflow owns workflow identity, lifecycle state, and the result
// envelopes the dispatcher publishes for every terminal outcome.
package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/c360studio/evoq/dispatch"
)

// Status represents the lifecycle state of a workflow.
type Status string

const (
	// StatusPending indicates the workflow is known but not executing.
	StatusPending Status = "pending"
	// StatusRunning indicates a handler attempt is in flight.
	StatusRunning Status = "running"
	// StatusCompleted indicates the workflow finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the workflow failed terminally.
	StatusFailed Status = "failed"
)

// Terminal returns true for completed and failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// legalTransitions enumerates the allowed state machine edges.
// running→pending re-arms the workflow for substrate redelivery after a
// transient failure.
var legalTransitions = map[Status][]Status{
	StatusPending: {StatusRunning},
	StatusRunning: {StatusCompleted, StatusFailed, StatusPending},
}

// CanTransition reports whether from→to is a legal state machine edge.
func CanTransition(from, to Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Record is the authoritative in-process state for one workflow id.
// Running state is never persisted; after a restart it is re-derived from
// substrate redelivery.
type Record struct {
	ID            string              `json:"id"`
	Type          string              `json:"type"`
	SourceQueue   string              `json:"source_queue"`
	PayloadDigest string              `json:"payload_digest"`
	Status        Status              `json:"status"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	Attempts      int                 `json:"attempts"`
	// Approved records a consumed approval token. Tokens are one-shot, so
	// retries of an approved workflow inherit the approval from here instead
	// of re-validating.
	Approved      bool                `json:"approved,omitempty"`
	LastError     *dispatch.ErrorInfo `json:"last_error,omitempty"`
}

// Summary is the observability view of a record.
type Summary struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	SourceQueue string    `json:"source_queue"`
	Status      Status    `json:"status"`
	Attempts    int       `json:"attempts"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastError   string    `json:"last_error,omitempty"`
}

func (r *Record) summary() Summary {
	s := Summary{
		ID:          r.ID,
		Type:        r.Type,
		SourceQueue: r.SourceQueue,
		Status:      r.Status,
		Attempts:    r.Attempts,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.LastError != nil {
		s.LastError = string(r.LastError.Kind) + ": " + r.LastError.Detail
	}
	return s
}

// PayloadDigest hashes a message body for change detection in records.
func PayloadDigest(body []byte) string {
	h := sha256.Sum256(body)
	return hex.EncodeToString(h[:8])
}
