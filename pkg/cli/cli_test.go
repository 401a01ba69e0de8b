package cli

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoCommand struct {
	cmd  *cobra.Command
	args []string
}

func (e *echoCommand) Meta() *cobra.Command {
	if e.cmd == nil {
		e.cmd = &cobra.Command{Use: "echo", Short: "Echo arguments"}
	}
	return e.cmd
}

func (e *echoCommand) Execute(cmd *cobra.Command, args []string) error {
	e.args = args
	return nil
}

func newTestCLI(out *bytes.Buffer) *CLI {
	root := &cobra.Command{Use: "test", SilenceUsage: true}
	root.SetOut(out)
	root.SetErr(out)
	return NewCLI(root)
}

func TestCLI_RegisterPlugin(t *testing.T) {
	var out bytes.Buffer
	c := newTestCLI(&out)
	echo := &echoCommand{}
	c.RegisterPlugin(echo)

	require.NoError(t, c.Run([]string{"echo", "a", "b"}))
	assert.Equal(t, []string{"a", "b"}, echo.args)
}

func TestCLI_Completion(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		t.Run(shell, func(t *testing.T) {
			var out bytes.Buffer
			c := newTestCLI(&out)
			require.NoError(t, c.Run([]string{"completion", shell}))
			assert.NotEmpty(t, out.String())
		})
	}

	var out bytes.Buffer
	c := newTestCLI(&out)
	assert.Error(t, c.Run([]string{"completion", "tcsh"}))
}
