package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// executeCommand runs the CLI with args and returns what it printed to stdout.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"server", "policy", "migrate", "chat"} {
		assert.Contains(t, names, want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("manage-api-base-url"))
}

func TestRootCommand_FreshFlagState(t *testing.T) {
	a := newRootCmd()
	b := newRootCmd()

	set, _, err := a.Find([]string{"policy", "set"})
	assert.NoError(t, err)
	assert.NoError(t, set.Flags().Set("model", "x"))

	set, _, err = b.Find([]string{"policy", "set"})
	assert.NoError(t, err)
	assert.False(t, set.Flags().Changed("model"))
}

func TestUnknownCommand(t *testing.T) {
	_, err := executeCommand(t, "frobnicate")
	assert.Error(t, err)
}
