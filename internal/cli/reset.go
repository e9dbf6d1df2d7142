package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbeck018/crewflow-go/memory"
)

// storeCloser is implemented by Store backends that hold a live connection.
type storeCloser interface {
	Close() error
}

// ResetOptions carries reset-memories' parsed flags. The flag set covers a
// broader memory taxonomy (long/short/entities/knowledge/kickoff outputs)
// than this runtime's Store persists: it only tracks MemoryTypeState,
// MemoryTypeMethodResult, MemoryTypeExecution, MemoryTypeError, and
// MemoryTypeConfig. Entity/knowledge/kickoff-output memory belongs to a
// higher-level orchestration layer this module doesn't implement, so those
// flags are accepted and reported rather than silently rejected.
type ResetOptions struct {
	*RootOptions
	long           bool
	short          bool
	entities       bool
	knowledge      bool
	kickoffOutputs bool
	all            bool
}

// NewResetCommand builds the reset-memories subcommand.
func NewResetCommand(root *RootOptions) *cobra.Command {
	opts := &ResetOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:           "reset-memories",
		Short:         "Clear stored flow memory",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.long, "long", false, "clear long-term state memory")
	cmd.Flags().BoolVar(&opts.short, "short", false, "clear short-term method-result memory")
	cmd.Flags().BoolVar(&opts.entities, "entities", false, "entity memory (not tracked by this store)")
	cmd.Flags().BoolVar(&opts.knowledge, "knowledge", false, "knowledge-source memory (not tracked by this store)")
	cmd.Flags().BoolVar(&opts.kickoffOutputs, "kickoff-outputs", false, "kickoff-output memory (not tracked by this store)")
	cmd.Flags().BoolVar(&opts.all, "all", false, "clear every memory type this store tracks")

	return cmd
}

func (o *ResetOptions) selectedAny() bool {
	return o.long || o.short || o.entities || o.knowledge || o.kickoffOutputs || o.all
}

func (o *ResetOptions) run(cmd *cobra.Command) error {
	if !o.selectedAny() {
		return NewExitError(ExitUsageError, "reset-memories requires at least one of --long, --short, --entities, --knowledge, --kickoff-outputs, --all")
	}

	store, err := buildStore(o.Config.Store)
	if err != nil {
		return WrapExitError(ExitUsageError, "cannot open memory store", err)
	}
	if closer, ok := store.(storeCloser); ok {
		defer func() { _ = closer.Close() }()
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var types []memory.MemoryType
	switch {
	case o.all:
		types = []memory.MemoryType{""} // empty MemoryType in a Query means "any type"
	default:
		if o.long {
			types = append(types, memory.MemoryTypeState)
		}
		if o.short {
			types = append(types, memory.MemoryTypeMethodResult)
		}
	}

	var cleared int
	for _, t := range types {
		n, err := store.Delete(ctx, memory.Query{MemoryType: t})
		if err != nil {
			return WrapExitError(ExitExecutionErr, "reset-memories failed", err)
		}
		cleared += n
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cleared %d memory item(s)\n", cleared)

	for _, flag := range []struct {
		set  bool
		name string
	}{
		{o.entities, "entities"},
		{o.knowledge, "knowledge"},
		{o.kickoffOutputs, "kickoff-outputs"},
	} {
		if flag.set {
			fmt.Fprintf(cmd.OutOrStdout(), "--%s accepted: not backed by this core's memory store, nothing to clear\n", flag.name)
		}
	}

	return nil
}
