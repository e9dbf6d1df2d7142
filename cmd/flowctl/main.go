// Command flowctl is the command-line surface over the flow execution
// engine: run a registered flow, reset persisted memory, run training
// iterations, or chat against a configured model.
package main

import (
	"fmt"
	"os"

	"github.com/jbeck018/crewflow-go/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(cli.ExitCodeOf(err))
}
