package workflow

import "errors"

// ErrNotFound is returned when no record exists for a workflow id.
var ErrNotFound = errors.New("workflow not found")

// ErrIllegalTransition is returned when a requested state change is not a
// legal state machine edge. It signals a programming defect or a duplicate
// delivery racing an in-flight attempt; callers treat it as a skip signal,
// never as a retry.
var ErrIllegalTransition = errors.New("illegal workflow transition")

// ValidationError represents a payload validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
