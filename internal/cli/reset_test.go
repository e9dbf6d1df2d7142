package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResetMemories_RequiresASelector(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewResetCommand(&RootOptions{})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(nil)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, ExitCodeOf(err))
}

func TestResetMemories_LongAndShort(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewResetCommand(&RootOptions{})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--long", "--short"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "cleared")
}

func TestResetMemories_AllClearsEveryType(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewResetCommand(&RootOptions{})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--all"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "cleared")
}

func TestResetMemories_EntitiesIsAcceptedNoOp(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewResetCommand(&RootOptions{})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--entities"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "not backed by this core's memory store")
}
