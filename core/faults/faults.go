// Package faults defines the structured error kinds exposed by the
// engine. Callers match them with errors.As; none of them is ever
// retried silently by the core.
package faults

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError rejects bad input before any state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// ConflictError signals a lost race or an operation against mismatched
// state. ClaimedAt carries the timestamp of the existing claim when the
// conflict is a double claim.
type ConflictError struct {
	Resource  string
	Reason    string
	ClaimedAt time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s: %s", e.Resource, e.Reason)
}

// NotFoundError signals an unknown entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// InvalidTransitionError rejects a lifecycle edge outside the valid
// transition table.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// IsConflict reports whether err wraps a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// IsInvalidTransition reports whether err wraps an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var te *InvalidTransitionError
	return errors.As(err, &te)
}
