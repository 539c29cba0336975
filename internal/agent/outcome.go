package agent

import (
	"errors"
	"fmt"
)

// ErrEmptyMessage is returned when the newest message has neither text nor
// attachments.
var ErrEmptyMessage = errors.New("message must include text or attachments")

// ValidationError rejects a request before any agent is invoked.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// DegradedReason names why a recoverable step fell back to its default.
type DegradedReason string

const (
	NotDegraded          DegradedReason = ""
	DegradedSelectorCall DegradedReason = "selector_call_failed"
	DegradedSelectorJSON DegradedReason = "selector_output_invalid"
	DegradedNoCatalog    DegradedReason = "no_specialists_available"
	DegradedSpecialist   DegradedReason = "specialist_failed"
	DegradedTeamFallback DegradedReason = "team_fallback"
)

// Outcome carries the value of a recoverable step and, when the step fell
// back, the reason and the underlying error.
type Outcome[T any] struct {
	Value    T
	Degraded DegradedReason
	Err      error
}

// Ok wraps a successful value.
func Ok[T any](v T) Outcome[T] { return Outcome[T]{Value: v} }

// Degrade wraps a fallback value.
func Degrade[T any](v T, reason DegradedReason, err error) Outcome[T] {
	return Outcome[T]{Value: v, Degraded: reason, Err: err}
}

// IsDegraded reports whether the step fell back.
func (o Outcome[T]) IsDegraded() bool { return o.Degraded != NotDegraded }
