package event

import (
	"testing"
	"time"
)

func TestExecutionTracker_TracksMethodRunsAndOutcome(t *testing.T) {
	var now time.Time
	tick := func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	}
	tr := NewExecutionTracker(tick)

	tr.Emit(Event{FlowID: "f1", FlowName: "report", Kind: KindFlowStarted})
	tr.Emit(Event{FlowID: "f1", Kind: KindMethodStarted, MethodName: "fetch"})
	tr.Emit(Event{FlowID: "f1", Kind: KindMethodFinished, MethodName: "fetch"})
	tr.Emit(Event{FlowID: "f1", Kind: KindFlowFinished})

	m, ok := tr.Metrics("f1")
	if !ok {
		t.Fatal("expected metrics recorded for f1")
	}
	if !m.Succeeded {
		t.Fatal("expected flow to be recorded as succeeded")
	}
	if len(m.MethodRuns) != 1 {
		t.Fatalf("expected one method run, got %d", len(m.MethodRuns))
	}
	if m.MethodRuns[0].Failed {
		t.Fatal("expected the fetch method run to be recorded as not failed")
	}
	if m.MethodRuns[0].FinishedAt.IsZero() {
		t.Fatal("expected the fetch method run to have a recorded finish time")
	}
}

func TestExecutionTracker_RecordsFailureMessage(t *testing.T) {
	tr := NewExecutionTracker(nil)
	tr.Emit(Event{FlowID: "f1", Kind: KindFlowStarted})
	tr.Emit(Event{FlowID: "f1", Kind: KindMethodStarted, MethodName: "fetch"})
	tr.Emit(Event{FlowID: "f1", Kind: KindMethodFailed, MethodName: "fetch"})
	tr.Emit(Event{FlowID: "f1", Kind: KindFlowFailed, Meta: map[string]any{"error": "boom"}})

	m, ok := tr.Metrics("f1")
	if !ok {
		t.Fatal("expected metrics recorded for f1")
	}
	if m.Succeeded {
		t.Fatal("expected flow to be recorded as not succeeded")
	}
	if m.FailureMsg != "boom" {
		t.Fatalf("expected failure message %q, got %q", "boom", m.FailureMsg)
	}
	if !m.MethodRuns[0].Failed {
		t.Fatal("expected the fetch method run to be recorded as failed")
	}
}

func TestExecutionTracker_UnknownFlowNotFound(t *testing.T) {
	tr := NewExecutionTracker(nil)
	if _, ok := tr.Metrics("nope"); ok {
		t.Fatal("expected no metrics for an unrecorded flow id")
	}
}

func TestExecutionTracker_Forget(t *testing.T) {
	tr := NewExecutionTracker(nil)
	tr.Emit(Event{FlowID: "f1", Kind: KindFlowStarted})
	tr.Forget("f1")
	if _, ok := tr.Metrics("f1"); ok {
		t.Fatal("expected Forget to remove the recorded metrics")
	}
}
