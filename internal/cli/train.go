package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// TrainingResult is what a TrainingService reports back after a training
// run, written to the --filename path as JSON.
type TrainingResult struct {
	Iterations int       `json:"iterations"`
	FinishedAt time.Time `json:"finished_at"`
	Notes      string    `json:"notes"`
}

// TrainingService runs iterative flow training and collects human feedback
// between iterations. Flow training (repeated execution with feedback
// fed back into method inputs) is an external collaborator this module
// doesn't implement; flowctl depends on the interface so a real trainer
// can be wired in without touching the command surface.
type TrainingService interface {
	Train(iterations int) (TrainingResult, error)
}

// noopTrainingService is the default TrainingService: it reports the
// requested iteration count without actually running anything, so
// train-crew has a usable exit path before a concrete trainer exists.
type noopTrainingService struct{}

func (noopTrainingService) Train(iterations int) (TrainingResult, error) {
	return TrainingResult{
		Iterations: iterations,
		FinishedAt: time.Now(),
		Notes:      "no TrainingService configured: recorded the request without executing training iterations",
	}, nil
}

// TrainOptions carries train-crew's parsed flags.
type TrainOptions struct {
	*RootOptions
	iterations int
	filename   string
	service    TrainingService
}

// NewTrainCommand builds the train-crew subcommand.
func NewTrainCommand(root *RootOptions) *cobra.Command {
	opts := &TrainOptions{RootOptions: root, service: noopTrainingService{}}

	cmd := &cobra.Command{
		Use:           "train-crew",
		Short:         "Run iterative flow training and write the results to a file",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.iterations, "iterations", "n", 1, "number of training iterations")
	cmd.Flags().StringVarP(&opts.filename, "filename", "f", "training_result.json", "path to write the training result to")

	return cmd
}

func (o *TrainOptions) run(cmd *cobra.Command) error {
	if o.iterations < 1 {
		return NewExitError(ExitUsageError, "--iterations must be at least 1")
	}

	if o.Verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "training for %d iteration(s)\n", o.iterations)
	}

	result, err := o.service.Train(o.iterations)
	if err != nil {
		return WrapExitError(ExitExecutionErr, "training failed", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return WrapExitError(ExitExecutionErr, "cannot marshal training result", err)
	}
	if err := os.WriteFile(o.filename, data, 0o644); err != nil {
		return WrapExitError(ExitExecutionErr, "cannot write training result", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote training result to %s\n", o.filename)
	return nil
}
