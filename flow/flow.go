package flow

import (
	"context"

	"github.com/google/uuid"
	"github.com/jbeck018/crewflow-go/event"
)

// MethodResult records what one method produced during an execution, kept
// around so the memory connector and the CLI's trace output can inspect the
// full run after the fact.
type MethodResult struct {
	MethodName string
	Value      any
	Err        error
}

// Flow is a single compiled trigger graph bound to a state type S. It is
// safe to Execute repeatedly and concurrently with itself: each call gets
// its own state handle and dispatch bookkeeping.
type Flow[S any] struct {
	Name    string
	table   *MethodTable[S]
	initial func() S
	bus     *event.Bus
}

// New binds a method table to an initial-state factory and an event bus.
// The factory is called once per Execute so concurrent executions never
// share mutable state.
func New[S any](name string, table *MethodTable[S], initial func() S, bus *event.Bus) *Flow[S] {
	return &Flow[S]{Name: name, table: table, initial: initial, bus: bus}
}

type dispatchItem struct {
	name  string
	input Input
}

// Execute runs the flow to completion: it enqueues every start method with
// inputs, then repeatedly pops the ready queue in FIFO order, running each
// method's body and propagating its result to downstream listeners per
// their trigger mode, until the queue drains, a method returns STOP, or an
// unrecovered error terminates the run. It returns the final value (the
// Finalize-designated method's result, or the last method to complete
// otherwise) and any unrecovered error.
func (f *Flow[S]) Execute(ctx context.Context, inputs map[string]any) (any, error) {
	flowID := uuid.NewString()
	state := newStateHandle(f.initial(), func(methodName string, newState S) {
		f.emit(flowID, event.KindStateChanged, methodName, map[string]any{"state": newState})
	})

	f.emit(flowID, event.KindFlowStarted, "", nil)

	fired := make(map[string]bool, len(f.table.order))
	results := make(map[string]MethodResult, len(f.table.order))
	andInputs := make(map[string]map[string]any)

	var queue []dispatchItem
	enqueue := func(name string, in Input) {
		queue = append(queue, dispatchItem{name: name, input: in})
	}

	for _, name := range f.table.startNames {
		enqueue(name, manyInput(inputs))
		fired[name] = true
	}

	var (
		finalValue any
		runErr     error
	)

dispatchLoop:
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		desc, ok := f.table.methods[item.name]
		if !ok {
			continue
		}

		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break dispatchLoop
		default:
		}

		state.setOwner(item.name)
		f.emit(flowID, event.KindMethodStarted, item.name, nil)
		value, err := desc.Fn(ctx, state, item.input)

		if err != nil {
			f.emit(flowID, event.KindMethodFailed, item.name, map[string]any{"error": err.Error()})
			if f.table.errorListener != "" && item.name != f.table.errorListener && !fired[f.table.errorListener] {
				enqueue(f.table.errorListener, singleInput(map[string]any{
					"methodName": item.name,
					"error":      err,
				}))
				fired[f.table.errorListener] = true
				continue
			}
			runErr = &ExecutionError{
				Message:    err.Error(),
				Code:       "METHOD_FAILED",
				MethodName: item.name,
				Cause:      err,
			}
			break dispatchLoop
		}

		if value == STOP {
			break dispatchLoop
		}

		results[item.name] = MethodResult{MethodName: item.name, Value: value}
		finalValue = value
		f.emit(flowID, event.KindMethodFinished, item.name, nil)

		for _, lname := range f.table.order {
			if fired[lname] {
				continue
			}
			ldesc := f.table.methods[lname]
			switch ldesc.Trigger.Mode {
			case ModeSimple:
				if ldesc.Trigger.Upstream[0] != item.name {
					continue
				}
				if ldesc.Kind == KindRouter && !ldesc.Predicate(value) {
					fired[lname] = true
					f.emit(flowID, event.KindRouterSuppressed, lname, nil)
					continue
				}
				enqueue(lname, singleInput(value))
				fired[lname] = true

			case ModeAnd:
				if !containsName(ldesc.Trigger.Upstream, item.name) {
					continue
				}
				m := andInputs[lname]
				if m == nil {
					m = make(map[string]any, len(ldesc.Trigger.Upstream))
					andInputs[lname] = m
				}
				m[item.name] = value
				if len(m) < len(ldesc.Trigger.Upstream) {
					continue
				}
				if ldesc.Kind == KindRouter && !ldesc.Predicate(m) {
					fired[lname] = true
					f.emit(flowID, event.KindRouterSuppressed, lname, nil)
					continue
				}
				enqueue(lname, manyInput(m))
				fired[lname] = true

			case ModeOr:
				if !containsName(ldesc.Trigger.Upstream, item.name) {
					continue
				}
				if ldesc.Kind == KindRouter && !ldesc.Predicate(value) {
					fired[lname] = true
					f.emit(flowID, event.KindRouterSuppressed, lname, nil)
					continue
				}
				enqueue(lname, singleInput(value))
				fired[lname] = true
			}
		}
	}

	if runErr != nil {
		f.emit(flowID, event.KindFlowFailed, "", map[string]any{"error": runErr.Error()})
		return nil, runErr
	}

	if f.table.finalMethod != "" {
		if r, ok := results[f.table.finalMethod]; ok {
			finalValue = r.Value
		}
	}

	f.emit(flowID, event.KindFlowFinished, "", nil)
	return finalValue, nil
}

func (f *Flow[S]) emit(flowID string, kind event.Kind, methodName string, meta map[string]any) {
	if f.bus == nil {
		return
	}
	f.bus.Publish(event.Event{
		FlowID:     flowID,
		FlowName:   f.Name,
		Kind:       kind,
		MethodName: methodName,
		Priority:   priorityFor(kind),
		Meta:       meta,
	})
}

func priorityFor(kind event.Kind) event.Priority {
	switch kind {
	case event.KindFlowFailed, event.KindMethodFailed:
		return event.PriorityHigh
	case event.KindStateChanged:
		return event.PriorityLow
	default:
		return event.PriorityNormal
	}
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
