// Package dispatch defines the handler contract, routing table, and error
// taxonomy shared by the workflow consumer and its registered handlers.
package dispatch

import (
	"context"
	"errors"
)

// ErrorKind classifies a failure for retry routing.
type ErrorKind string

const (
	// KindTransient marks failures that may succeed on retry.
	KindTransient ErrorKind = "transient"
	// KindPermanent marks failures that will not succeed on retry.
	KindPermanent ErrorKind = "permanent"
	// KindInvalidInput marks messages that cannot be decoded or routed.
	KindInvalidInput ErrorKind = "invalid_input"
)

// ErrorInfo is the wire form of a classified failure, carried in failure
// envelopes and workflow records.
type ErrorInfo struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail"`
}

// TransientError represents a temporary error that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// PermanentError represents a failure that should not be retried.
type PermanentError struct {
	err error
}

func (e *PermanentError) Error() string {
	return e.err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.err
}

// NewPermanentError wraps an error as permanent (non-retryable).
func NewPermanentError(err error) error {
	return &PermanentError{err: err}
}

// InvalidInputError marks a message that cannot be decoded, routed, or
// validated. It never reaches a handler retry cycle.
type InvalidInputError struct {
	err error
}

func (e *InvalidInputError) Error() string {
	return e.err.Error()
}

func (e *InvalidInputError) Unwrap() error {
	return e.err
}

// NewInvalidInputError wraps an error as invalid input.
func NewInvalidInputError(err error) error {
	return &InvalidInputError{err: err}
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsPermanent returns true if the error is permanent.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

// IsInvalidInput returns true if the error marks unroutable or malformed input.
func IsInvalidInput(err error) bool {
	var invalid *InvalidInputError
	return errors.As(err, &invalid)
}

// KindOf classifies an error. Deadline and cancellation errors count as
// transient (the attempt may succeed when redelivered); unwrapped errors
// count as permanent, since a handler that wants a retry must say so.
func KindOf(err error) ErrorKind {
	switch {
	case IsInvalidInput(err):
		return KindInvalidInput
	case IsTransient(err):
		return KindTransient
	case IsPermanent(err):
		return KindPermanent
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTransient
	default:
		return KindPermanent
	}
}

// InfoOf converts an error into its wire form.
func InfoOf(err error) ErrorInfo {
	if err == nil {
		return ErrorInfo{}
	}
	return ErrorInfo{Kind: KindOf(err), Detail: err.Error()}
}
