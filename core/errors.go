package core

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for queue and loop lifecycle conditions.
var (
	// ErrProducerBound is returned when a second producer handle is requested
	// for the same StreamQueue. One invocation owns exactly one producer.
	ErrProducerBound = errors.New("stream queue already has a producer")

	// ErrQueueClosed is returned when pushing to a queue that has already been
	// closed with its terminal chunk.
	ErrQueueClosed = errors.New("stream queue closed")

	// ErrQueueCancelled is returned when the consumer disconnected and the
	// producer must abandon the invocation.
	ErrQueueCancelled = errors.New("stream queue cancelled by consumer")

	// ErrMaxRounds signals that the reasoning loop did not converge within the
	// configured tool-call round budget.
	ErrMaxRounds = errors.New("tool-call round budget exhausted")

	// ErrInvalidRequest covers malformed request metadata (missing auth token
	// or identity coordinates). Raised before any side effect occurs.
	ErrInvalidRequest = errors.New("invalid request metadata")
)

// RoutingError marks a tool call that could not be resolved to a reachable
// target. It fails the single call, never the invocation; the model sees it as
// a tool-result error and can adapt.
type RoutingError struct {
	Name   string // fully-qualified or target name that failed to resolve
	Reason string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing error for %q: %s", e.Name, e.Reason)
}

// AuthError marks a rejected credential: a bearer token refused by a protocol
// target or service-identity signing refused by an invoke target. Never
// retried.
type AuthError struct {
	Target string
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth rejected by target %q: %s", e.Target, e.Reason)
}

// TransientBackendError wraps a timeout or 5xx-equivalent backend failure that
// is safe to retry.
type TransientBackendError struct {
	Target string
	Tool   string
	Err    error
}

func (e *TransientBackendError) Error() string {
	return fmt.Sprintf("transient failure calling %s on target %q: %v", e.Tool, e.Target, e.Err)
}

func (e *TransientBackendError) Unwrap() error { return e.Err }

// MemoryDegradedError wraps a MemoryStore failure during hydration or
// persistence. Always absorbed locally: logged, never surfaced to the caller.
type MemoryDegradedError struct {
	Op        string // "retrieve", "store" or "recent-turns"
	Namespace string
	Err       error
}

func (e *MemoryDegradedError) Error() string {
	return fmt.Sprintf("memory degraded during %s (namespace %q): %v", e.Op, e.Namespace, e.Err)
}

func (e *MemoryDegradedError) Unwrap() error { return e.Err }

// IsTransient reports whether a tool call failure may be retried.
func IsTransient(err error) bool {
	var te *TransientBackendError
	return errors.As(err, &te)
}

// ErrorCode maps an error to a stable machine-readable code used in chunks.
func ErrorCode(err error) string {
	var (
		routing   *RoutingError
		auth      *AuthError
		transient *TransientBackendError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &routing):
		return "ROUTING_ERROR"
	case errors.As(err, &auth):
		return "AUTH_ERROR"
	case errors.As(err, &transient):
		return "TRANSIENT_BACKEND_ERROR"
	case errors.Is(err, ErrMaxRounds):
		return "MAX_ROUNDS_EXCEEDED"
	case errors.Is(err, context.DeadlineExceeded):
		return "DEADLINE_EXCEEDED"
	case errors.Is(err, context.Canceled), errors.Is(err, ErrQueueCancelled):
		return "CANCELLED"
	case errors.Is(err, ErrInvalidRequest):
		return "INVALID_REQUEST"
	default:
		return "INTERNAL_ERROR"
	}
}
