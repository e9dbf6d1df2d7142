package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jbeck018/crewflow-go/event"
)

// FlowManifest is what run-flow loads from disk: a reference to a
// built-in registered flow plus the external input to hand its start
// methods. Go's static method table has no equivalent of loading an
// arbitrary annotated flow definition from a file path, so the manifest
// selects among flows compiled into the registry instead.
type FlowManifest struct {
	Flow  string         `yaml:"flow" json:"flow"`
	Input map[string]any `yaml:"input" json:"input"`
}

func loadManifest(path string) (*FlowManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m FlowManifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if m.Flow == "" {
		return nil, fmt.Errorf("manifest %s has no \"flow\" field", path)
	}
	return &m, nil
}

// RunOptions carries run-flow's parsed flags.
type RunOptions struct {
	*RootOptions
	inputOverride string
}

// NewRunCommand builds the run-flow subcommand: run-flow <manifest path>.
func NewRunCommand(root *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:   "run-flow <manifest-path>",
		Short: "Execute a registered flow against a manifest file",
		Long: "run-flow loads a YAML or JSON manifest naming one of flowctl's\n" +
			"built-in flows (" + fmt.Sprint(RegisteredFlowNames()) + ") and runs it to completion,\n" +
			"optionally overriding its input with --input.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.inputOverride, "input", "", "JSON object overriding the manifest's input")

	return cmd
}

func (o *RunOptions) run(cmd *cobra.Command, manifestPath string) error {
	manifest, err := loadManifest(manifestPath)
	if err != nil {
		return WrapExitError(ExitUsageError, "invalid manifest", err)
	}

	input := manifest.Input
	if o.inputOverride != "" {
		var override map[string]any
		if err := json.Unmarshal([]byte(o.inputOverride), &override); err != nil {
			return WrapExitError(ExitUsageError, "invalid --input JSON", err)
		}
		input = override
	}

	var (
		bus     *event.Bus
		tracker *event.ExecutionTracker
	)
	if o.Verbose {
		tracker = event.NewExecutionTracker(nil)
		bus = event.NewBus(64, tracker)
		defer bus.Close(context.Background())
	}

	f, err := BuildFlow(manifest.Flow, bus)
	if err != nil {
		return WrapExitError(ExitUsageError, "cannot build flow", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	result, err := f.Execute(ctx, input)
	elapsed := time.Since(start)
	if err != nil {
		return WrapExitError(ExitExecutionErr, fmt.Sprintf("flow %q failed after %s", manifest.Flow, elapsed), err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return WrapExitError(ExitExecutionErr, "cannot marshal result", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", out)
	fmt.Fprintf(cmd.ErrOrStderr(), "flow %q finished in %s\n", manifest.Flow, elapsed)

	if tracker != nil {
		printTrace(cmd, tracker)
	}

	return nil
}

func printTrace(cmd *cobra.Command, tracker *event.ExecutionTracker) {
	for _, flowID := range tracker.FlowIDs() {
		m, ok := tracker.Metrics(flowID)
		if !ok {
			continue
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "trace %s (%s): succeeded=%v\n", flowID, m.FlowName, m.Succeeded)
		for _, run := range m.MethodRuns {
			fmt.Fprintf(cmd.ErrOrStderr(), "  %-20s failed=%v\n", run.MethodName, run.Failed)
		}
	}
}
