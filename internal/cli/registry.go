package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jbeck018/crewflow-go/event"
	"github.com/jbeck018/crewflow-go/flow"
)

// CLIState is the state type every registry flow shares: a flat bag of
// named values, since flowctl's manifests describe flows declaratively
// rather than compiling bespoke Go state structs per run.
type CLIState map[string]any

func cloneState(s CLIState) CLIState {
	out := make(CLIState, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// registryEntry builds a fresh MethodTable for one named flow; BuildFlow
// supplies the (empty) initial state. A fresh Builder per call keeps concurrent run-flow invocations from
// sharing any mutable builder state.
type registryEntry struct {
	describe string
	build    func() (*flow.MethodTable[CLIState], error)
}

// flowRegistry is flowctl's built-in catalog of runnable flows. Flow
// bodies are ordinary Go, registered like any other flow.Builder program;
// a manifest loaded by run-flow only selects which one runs and supplies
// its external input, since the flow runtime has no reflection-based
// dynamic method discovery to load arbitrary code from a file path.
var flowRegistry = map[string]registryEntry{
	"echo": {
		describe: "single start method that copies its input into state and returns it",
		build: func() (*flow.MethodTable[CLIState], error) {
			return flow.NewBuilder[CLIState]().
				Start("echo", func(_ context.Context, state *flow.StateHandle[CLIState], in flow.Input) (any, error) {
					payload := in.All()
					state.Update(func(s CLIState) CLIState {
						s = cloneState(s)
						for k, v := range payload {
							s[k] = v
						}
						return s
					})
					return payload, nil
				}).
				Build()
		},
	},
	"report": {
		describe: "two independent start methods joined by an AND listener, demonstrating the fork/join trigger shape",
		build: func() (*flow.MethodTable[CLIState], error) {
			return flow.NewBuilder[CLIState]().
				Start("fetch", func(_ context.Context, state *flow.StateHandle[CLIState], in flow.Input) (any, error) {
					subject, _ := in.Named("subject")
					if subject == nil {
						subject = "unnamed"
					}
					state.Update(func(s CLIState) CLIState {
						s = cloneState(s)
						s["subject"] = subject
						return s
					})
					return subject, nil
				}).
				Start("enrich", func(_ context.Context, state *flow.StateHandle[CLIState], in flow.Input) (any, error) {
					tags, _ := in.Named("tags")
					state.Update(func(s CLIState) CLIState {
						s = cloneState(s)
						s["tags"] = tags
						return s
					})
					return tags, nil
				}).
				Listen("combine", flow.And("fetch", "enrich"), func(_ context.Context, state *flow.StateHandle[CLIState], in flow.Input) (any, error) {
					subject, _ := in.Named("fetch")
					tags, _ := in.Named("enrich")
					summary := fmt.Sprintf("%v (%v)", subject, tags)
					state.Update(func(s CLIState) CLIState {
						s = cloneState(s)
						s["summary"] = summary
						return s
					})
					return summary, nil
				}).
				Finalize("combine").
				Build()
		},
	},
}

// RegisteredFlowNames returns the built-in flow names in sorted order, for
// help text and error messages.
func RegisteredFlowNames() []string {
	names := make([]string, 0, len(flowRegistry))
	for name := range flowRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildFlow instantiates a registered flow by name, wiring it to bus (which
// may be nil to run without an event subscriber).
func BuildFlow(name string, bus *event.Bus) (*flow.Flow[CLIState], error) {
	entry, ok := flowRegistry[name]
	if !ok {
		return nil, fmt.Errorf("unknown flow %q: registered flows are [%s]", name, strings.Join(RegisteredFlowNames(), ", "))
	}
	table, err := entry.build()
	if err != nil {
		return nil, err
	}
	return flow.New(name, table, func() CLIState { return CLIState{} }, bus), nil
}
