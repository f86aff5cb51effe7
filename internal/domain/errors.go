package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy every error surfaced by the core carries,
// both on the wire (as a response field) and on a terminal Job record.
type ErrorKind string

const (
	ErrKindNotFound         ErrorKind = "ErrNotFound"
	ErrKindInvalidConfig    ErrorKind = "ErrInvalidConfig"
	ErrKindUnknownTrainer   ErrorKind = "ErrUnknownTrainer"
	ErrKindCapacity         ErrorKind = "ErrCapacity"
	ErrKindTerminal         ErrorKind = "ErrTerminal"
	ErrKindAuthInsufficient ErrorKind = "ErrAuthInsufficient"
	ErrKindUnauthenticated  ErrorKind = "ErrUnauthenticated"
	ErrKindCancelTimeout    ErrorKind = "ErrCancelTimeout"
	ErrKindTimeout          ErrorKind = "ErrTimeout"
	ErrKindSlowConsumer     ErrorKind = "ErrSlowConsumer"
	ErrKindInternal         ErrorKind = "ErrInternal"
)

// JobError is the error type returned by every core operation that can
// fail synchronously, and the type stashed on a Job's LastError/LastErrorKind
// on a failed terminal transition.
type JobError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *JobError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *JobError) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, domain.ErrNotFound) style sentinel comparisons
// against a bare ErrorKind wrapped in a JobError.
func (e *JobError) Is(target error) bool {
	var je *JobError
	if errors.As(target, &je) {
		return je.Kind == e.Kind
	}
	return false
}

// NewError constructs a JobError with no underlying cause.
func NewError(kind ErrorKind, message string) *JobError {
	return &JobError{Kind: kind, Message: message}
}

// WrapError constructs a JobError wrapping cause.
func WrapError(kind ErrorKind, message string, cause error) *JobError {
	return &JobError{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the ErrorKind from err, defaulting to ErrKindInternal for
// any error not produced by this package.
func KindOf(err error) ErrorKind {
	var je *JobError
	if errors.As(err, &je) {
		return je.Kind
	}
	if err == nil {
		return ""
	}
	return ErrKindInternal
}

// Sentinel errors for errors.Is comparisons against well-known kinds,
// e.g. `errors.Is(err, domain.ErrNotFound)`.
var (
	ErrNotFound         = &JobError{Kind: ErrKindNotFound}
	ErrInvalidConfig    = &JobError{Kind: ErrKindInvalidConfig}
	ErrUnknownTrainer   = &JobError{Kind: ErrKindUnknownTrainer}
	ErrCapacity         = &JobError{Kind: ErrKindCapacity}
	ErrTerminal         = &JobError{Kind: ErrKindTerminal}
	ErrAuthInsufficient = &JobError{Kind: ErrKindAuthInsufficient}
	ErrUnauthenticated  = &JobError{Kind: ErrKindUnauthenticated}
	ErrCancelTimeout    = &JobError{Kind: ErrKindCancelTimeout}
	ErrTimeout          = &JobError{Kind: ErrKindTimeout}
	ErrSlowConsumer     = &JobError{Kind: ErrKindSlowConsumer}
	ErrInternal         = &JobError{Kind: ErrKindInternal}
)
