package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/jbeck018/crewflow-go/event"
)

type reportState struct {
	Log []string
}

func appendLog(name string) MethodFunc[reportState] {
	return func(_ context.Context, state *StateHandle[reportState], in Input) (any, error) {
		state.Update(func(s reportState) reportState {
			s.Log = append(s.Log, name)
			return s
		})
		return name, nil
	}
}

func TestFlow_SimpleChain(t *testing.T) {
	table, err := NewBuilder[reportState]().
		Start("a", appendLog("a")).
		Listen("b", On("a"), appendLog("b")).
		Listen("c", On("b"), appendLog("c")).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	f := New[reportState]("chain", table, func() reportState { return reportState{} }, nil)
	result, err := f.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result != "c" {
		t.Fatalf("expected final value 'c', got %v", result)
	}
}

func TestFlow_ANDJoin_WaitsForBothUpstreams(t *testing.T) {
	var joined Input
	table, err := NewBuilder[reportState]().
		Start("a", appendLog("a")).
		Start("b", appendLog("b")).
		Listen("join", And("a", "b"), func(_ context.Context, _ *StateHandle[reportState], in Input) (any, error) {
			joined = in
			return "joined", nil
		}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	f := New[reportState]("and-join", table, func() reportState { return reportState{} }, nil)
	result, err := f.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result != "joined" {
		t.Fatalf("expected 'joined', got %v", result)
	}
	if _, ok := joined.Named("a"); !ok {
		t.Fatal("expected join input to carry a's result")
	}
	if _, ok := joined.Named("b"); !ok {
		t.Fatal("expected join input to carry b's result")
	}
}

func TestFlow_ORJoin_FiresOnceOnFirstArrival(t *testing.T) {
	fireCount := 0
	table, err := NewBuilder[reportState]().
		Start("a", appendLog("a")).
		Start("b", appendLog("b")).
		Listen("any", Or("a", "b"), func(context.Context, *StateHandle[reportState], Input) (any, error) {
			fireCount++
			return "fired", nil
		}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	f := New[reportState]("or-join", table, func() reportState { return reportState{} }, nil)
	if _, err := f.Execute(context.Background(), nil); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if fireCount != 1 {
		t.Fatalf("expected OR listener to fire exactly once, fired %d times", fireCount)
	}
}

func TestFlow_RouterSuppression(t *testing.T) {
	downstreamRan := false
	table, err := NewBuilder[reportState]().
		Start("a", func(context.Context, *StateHandle[reportState], Input) (any, error) {
			return map[string]any{"quality": "low"}, nil
		}).
		Router("r", On("a"), func(upstream any) bool {
			m := upstream.(map[string]any)
			return m["quality"] == "high"
		}, func(context.Context, *StateHandle[reportState], Input) (any, error) {
			return "high-branch", nil
		}).
		Listen("l", On("r"), func(context.Context, *StateHandle[reportState], Input) (any, error) {
			downstreamRan = true
			return "l", nil
		}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	buf := event.NewBufferedEmitter()
	bus := event.NewBus(16, buf)
	defer bus.Close(context.Background())

	f := New[reportState]("router", table, func() reportState { return reportState{} }, bus)
	result, err := f.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	resultMap, ok := result.(map[string]any)
	if !ok || resultMap["quality"] != "low" {
		t.Fatalf("expected final value to be a's result since the router never ran, got: %v", result)
	}
	if downstreamRan {
		t.Fatal("router's listener should never run when the predicate suppresses the router")
	}
}

func TestFlow_StopSentinelEndsExecution(t *testing.T) {
	downstreamRan := false
	table, err := NewBuilder[reportState]().
		Start("a", func(context.Context, *StateHandle[reportState], Input) (any, error) {
			return STOP, nil
		}).
		Listen("b", On("a"), func(context.Context, *StateHandle[reportState], Input) (any, error) {
			downstreamRan = true
			return "b", nil
		}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	f := New[reportState]("stop", table, func() reportState { return reportState{} }, nil)
	if _, err := f.Execute(context.Background(), nil); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if downstreamRan {
		t.Fatal("STOP must prevent downstream listeners from running")
	}
}

func TestFlow_WildcardErrorListenerRecovers(t *testing.T) {
	table, err := NewBuilder[reportState]().
		Start("a", func(context.Context, *StateHandle[reportState], Input) (any, error) {
			return nil, errors.New("boom")
		}).
		OnError(func(_ context.Context, _ *StateHandle[reportState], in Input) (any, error) {
			name, _ := in.Value().(map[string]any)["methodName"].(string)
			return "recovered:" + name, nil
		}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	f := New[reportState]("recover", table, func() reportState { return reportState{} }, nil)
	result, err := f.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("expected the wildcard error listener to recover the run, got: %v", err)
	}
	if result != "recovered:a" {
		t.Fatalf("expected 'recovered:a', got %v", result)
	}
}

func TestFlow_UnrecoveredErrorFailsExecution(t *testing.T) {
	table, err := NewBuilder[reportState]().
		Start("a", func(context.Context, *StateHandle[reportState], Input) (any, error) {
			return nil, errors.New("boom")
		}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	f := New[reportState]("fail", table, func() reportState { return reportState{} }, nil)
	_, err = f.Execute(context.Background(), nil)
	if err == nil {
		t.Fatal("expected execution error")
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected *ExecutionError, got %T", err)
	}
	if execErr.MethodName != "a" {
		t.Fatalf("expected method name 'a', got %s", execErr.MethodName)
	}
}
