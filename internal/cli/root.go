package cli

import (
	"github.com/spf13/cobra"

	"github.com/jbeck018/crewflow-go/internal/config"
)

// RootOptions holds flags and loaded configuration shared across every
// flowctl subcommand.
type RootOptions struct {
	Verbose    bool
	ConfigPath string
	Config     config.Config
}

// NewRootCommand builds flowctl's command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Config: config.Default()}

	cmd := &cobra.Command{
		Use:   "flowctl",
		Short: "flowctl runs, trains, and inspects flows",
		Long:  "flowctl is the command-line surface over the flow execution engine: run a flow, reset its persisted memory, run training iterations, or chat against a configured model.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitUsageError, "cannot load config", err)
			}
			opts.Config = cfg
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a flowctl.toml config file")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewResetCommand(opts))
	cmd.AddCommand(NewTrainCommand(opts))
	cmd.AddCommand(NewChatCommand(opts))

	return cmd
}
