package provider

import (
	"fmt"
	"strings"
)

// CapabilityError signals that the backing tracker does not support a
// feature the engine asked for (hierarchy or blocking links)
type CapabilityError struct {
	Provider   string
	Capability string
}

// Error implements the error interface
func (e *CapabilityError) Error() string {
	return fmt.Sprintf("provider %s does not support %s", e.Provider, e.Capability)
}

// PartialCreateError signals that an item was created remotely but a
// follow-up step (labeling, parent attachment) failed. It carries the
// created identity so the next run's discovery phase recognizes the item
// instead of duplicating it.
type PartialCreateError struct {
	// Created is the identity of the item that exists remotely
	Created Item

	// CompletedSteps lists the sub-steps that succeeded before the failure
	CompletedSteps []string

	// Retryable is always false: recovery happens through discovery on the
	// next run, never through an automatic in-run retry
	Retryable bool

	// Cause is the failure of the follow-up step
	Cause error
}

// Error implements the error interface
func (e *PartialCreateError) Error() string {
	msg := fmt.Sprintf("item %s (%s) was created but a follow-up step failed", e.Created.Key, e.Created.ID)
	if len(e.CompletedSteps) > 0 {
		msg += fmt.Sprintf(" (completed: %s)", strings.Join(e.CompletedSteps, ", "))
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *PartialCreateError) Unwrap() error {
	return e.Cause
}
