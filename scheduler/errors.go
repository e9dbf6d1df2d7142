package scheduler

import "errors"

// ErrInvalidRetryPolicy mirrors the flow package's validation style: a
// sentinel for a single, simple precondition rather than a struct type.
var ErrInvalidRetryPolicy = errors.New("scheduler: invalid retry policy")

// FlowValidationError reports a fault in the dependency graph itself: an
// unknown flow id, a duplicate registration, or an edge that would close a
// cycle. Returned from RegisterFlow/AddDependency, and from Execute when a
// DependsOn id was never registered.
type FlowValidationError struct {
	Message string
	Code    string
	FlowID  string
}

func (e *FlowValidationError) Error() string {
	if e.FlowID != "" {
		return "scheduler validation: " + e.Code + ": " + e.Message + " (flow " + e.FlowID + ")"
	}
	return "scheduler validation: " + e.Code + ": " + e.Message
}

// TimeoutError reports that a flow (or the whole run) exceeded its
// configured timeout. Scope is "flow" or "run".
type TimeoutError struct {
	Scope  string
	FlowID string
	Limit  string
}

func (e *TimeoutError) Error() string {
	if e.Scope == "run" {
		return "scheduler: total run timeout exceeded (" + e.Limit + ")"
	}
	return "scheduler: flow " + e.FlowID + " exceeded execution timeout (" + e.Limit + ")"
}

// Temporary reports false: a timeout is terminal for the attempt that hit
// it, but the default transience check still retries the flow via a fresh
// attempt rather than this same error value.
func (e *TimeoutError) Temporary() bool { return false }

// DeadlockError reports that the ready set and running set are both empty
// while pending nodes remain: no sequence of events can make forward
// progress.
type DeadlockError struct {
	Pending []string
}

func (e *DeadlockError) Error() string {
	msg := "scheduler: deadlock detected, no runnable flows remain pending:"
	for i, id := range e.Pending {
		if i > 0 {
			msg += ","
		}
		msg += " " + id
	}
	return msg
}

// CancellationError wraps the reason a running flow was cancelled
// mid-execution, typically a failFast cascade from a sibling's failure.
type CancellationError struct {
	FlowID string
	Reason string
}

func (e *CancellationError) Error() string {
	return "scheduler: flow " + e.FlowID + " cancelled: " + e.Reason
}
