// Package event provides the flow execution engine's observability bus: a
// typed event, a pluggable Emitter interface for delivering it to a
// backend, and a priority-lane Bus that fans events out to subscribers
// without blocking the flow or scheduler goroutine that raised them.
package event

// Kind identifies the lifecycle transition an Event describes.
type Kind string

const (
	KindFlowStarted      Kind = "flow_started"
	KindFlowFinished     Kind = "flow_finished"
	KindFlowFailed       Kind = "flow_failed"
	KindMethodStarted    Kind = "method_execution_started"
	KindMethodFinished   Kind = "method_execution_finished"
	KindMethodFailed     Kind = "method_execution_failed"
	KindRouterSuppressed Kind = "router_suppressed"
	KindStateChanged     Kind = "state_changed"

	// Scheduler-level kinds (§4.2).
	KindFlowQueued     Kind = "scheduler_flow_queued"
	KindFlowDispatched Kind = "scheduler_flow_dispatched"
	KindFlowRetried    Kind = "scheduler_flow_retried"
	KindFlowTimedOut   Kind = "scheduler_flow_timed_out"
	KindDeadlock       Kind = "scheduler_deadlock_detected"
)

// Priority is the lane an Event is dispatched on. Higher-priority events
// are drained before lower-priority ones when the bus is under load.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// Event is a single observability record raised by a flow or the
// scheduler. FlowID identifies the execution; MethodName is empty for
// flow-level events (started/finished/failed) and set for method-level
// ones.
type Event struct {
	FlowID     string
	FlowName   string
	Kind       Kind
	MethodName string
	Priority   Priority
	Meta       map[string]any
}
