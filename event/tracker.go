package event

import (
	"context"
	"sync"
	"time"
)

// FlowExecutionMetrics summarizes one flow execution for the tracker's
// query API: when it started, how it ended, and per-method timing.
type FlowExecutionMetrics struct {
	FlowID     string
	FlowName   string
	StartedAt  time.Time
	FinishedAt time.Time
	Succeeded  bool
	FailureMsg string
	MethodRuns []MethodRun
}

// MethodRun records one method invocation's timing within a flow.
type MethodRun struct {
	MethodName string
	StartedAt  time.Time
	FinishedAt time.Time
	Failed     bool
}

// ExecutionTracker is an Emitter that keeps a rolling in-memory summary per
// flow execution, independent of whatever other emitters (logging,
// tracing) are wired to the same Bus. cmd/flowctl's run-flow subcommand
// uses it to print a post-run summary without needing a separate store
// round-trip.
type ExecutionTracker struct {
	mu    sync.Mutex
	flows map[string]*FlowExecutionMetrics
	now   func() time.Time
}

// NewExecutionTracker builds a tracker. now defaults to time.Now; tests may
// override it for deterministic timestamps.
func NewExecutionTracker(now func() time.Time) *ExecutionTracker {
	if now == nil {
		now = time.Now
	}
	return &ExecutionTracker{flows: make(map[string]*FlowExecutionMetrics), now: now}
}

func (t *ExecutionTracker) Emit(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.flows[e.FlowID]
	if m == nil {
		m = &FlowExecutionMetrics{FlowID: e.FlowID, FlowName: e.FlowName, StartedAt: t.now()}
		t.flows[e.FlowID] = m
	}

	switch e.Kind {
	case KindMethodStarted:
		m.MethodRuns = append(m.MethodRuns, MethodRun{MethodName: e.MethodName, StartedAt: t.now()})
	case KindMethodFinished, KindMethodFailed:
		for i := len(m.MethodRuns) - 1; i >= 0; i-- {
			if m.MethodRuns[i].MethodName == e.MethodName && m.MethodRuns[i].FinishedAt.IsZero() {
				m.MethodRuns[i].FinishedAt = t.now()
				m.MethodRuns[i].Failed = e.Kind == KindMethodFailed
				break
			}
		}
	case KindFlowFinished:
		m.FinishedAt = t.now()
		m.Succeeded = true
	case KindFlowFailed:
		m.FinishedAt = t.now()
		m.Succeeded = false
		if msg, ok := e.Meta["error"].(string); ok {
			m.FailureMsg = msg
		}
	}
}

func (t *ExecutionTracker) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		t.Emit(e)
	}
	return nil
}

func (t *ExecutionTracker) Flush(context.Context) error { return nil }

// Metrics returns a copy of the recorded metrics for flowID, or false if
// nothing has been recorded for it.
func (t *ExecutionTracker) Metrics(flowID string) (FlowExecutionMetrics, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.flows[flowID]
	if !ok {
		return FlowExecutionMetrics{}, false
	}
	return *m, true
}

// Forget discards the recorded metrics for flowID, bounding memory use for
// long-running processes that execute many flows.
func (t *ExecutionTracker) Forget(flowID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.flows, flowID)
}

// FlowIDs returns every flow ID the tracker currently holds metrics for, in
// no particular order. Callers that execute one flow per process (like
// flowctl's run-flow) use this to find the ID Flow.Execute generated
// internally without having to thread it back out of Execute's signature.
func (t *ExecutionTracker) FlowIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.flows))
	for id := range t.flows {
		ids = append(ids, id)
	}
	return ids
}
