package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCommand_HasAllSubcommands(t *testing.T) {
	root := NewRootCommand()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}

	assert.Contains(t, names, "run-flow")
	assert.Contains(t, names, "reset-memories")
	assert.Contains(t, names, "train-crew")
	assert.Contains(t, names, "chat")
}

func TestNewRootCommand_LoadsDefaultConfig(t *testing.T) {
	root := NewRootCommand()
	root.SetArgs([]string{"reset-memories", "--long"})

	require.NoError(t, root.Execute())
}
