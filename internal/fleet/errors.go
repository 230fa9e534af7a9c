package fleet

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification with errors.Is. The typed errors
// below all unwrap to one of these.
var (
	// ErrValidation indicates a registration or request carried missing
	// or invalid fields. Validation failures are never retried.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates an ID did not resolve to a live record.
	ErrNotFound = errors.New("not found")

	// ErrNoSuitableNode indicates placement filtering eliminated every
	// candidate node. This is an expected outcome under load, not a
	// fault: workload distribution records it as workload state instead
	// of returning it.
	ErrNoSuitableNode = errors.New("no suitable node")
)

// ValidationError reports which field of a registration or request was
// missing or invalid.
type ValidationError struct {
	Field  string // The offending field
	Reason string // Why it was rejected
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError reports an unknown node, service, instance, or workload ID.
type NotFoundError struct {
	Kind string // "node", "service", "instance", or "workload"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NoSuitableNodeError reports that no registered node passed placement
// filtering for a resource request.
type NoSuitableNodeError struct {
	Reason string // Optional context, e.g. "migration off node-1"
}

func (e *NoSuitableNodeError) Error() string {
	if e.Reason == "" {
		return "no suitable node available"
	}
	return fmt.Sprintf("no suitable node available for %s", e.Reason)
}

func (e *NoSuitableNodeError) Unwrap() error { return ErrNoSuitableNode }
