package cli

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureStdout returns what fn printed to stdout
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		io.Copy(&buf, r)
		done <- buf.String()
	}()

	runErr := fn()

	w.Close()
	os.Stdout = oldStdout
	return <-done, runErr
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()

	assert.Equal(t, "portalfs", root.Name)
	assert.NotNil(t, root.Subcommands)
	assert.NotNil(t, root.Flags)

	expectedCommands := []string{
		"ls",
		"mkdir",
		"rm",
		"upload",
		"download",
		"share",
		"grant",
		"jobs",
		"submit",
	}

	for _, cmdName := range expectedCommands {
		assert.Contains(t, root.Subcommands, cmdName, "Expected subcommand %s to be registered", cmdName)
		assert.NotNil(t, root.Subcommands[cmdName].Flags.Lookup("server"), "%s takes the connection flags", cmdName)
	}

	assert.Equal(t, len(expectedCommands), len(root.Subcommands))
}

func TestCommandUsage(t *testing.T) {
	root := NewRootCommand()

	output, err := captureStdout(t, root.usage)

	assert.NoError(t, err)
	assert.Contains(t, output, "Usage: portalfs <command> [args]")
	assert.Contains(t, output, "Commands:")
	assert.Contains(t, output, "upload")
	assert.Contains(t, output, "submit")
	assert.Contains(t, output, "portalfs version")
	assert.Less(t, bytes.Index([]byte(output), []byte("download")), bytes.Index([]byte(output), []byte("upload")), "commands are sorted")
}

func TestCommandExecute_NoArgs(t *testing.T) {
	root := NewRootCommand()

	oldArgs := os.Args
	os.Args = []string{"portalfs"}
	defer func() { os.Args = oldArgs }()

	output, err := captureStdout(t, root.Execute)

	assert.NoError(t, err)
	assert.Contains(t, output, "Usage: portalfs <command> [args]")
}

func TestCommandExecute_HelpFlag(t *testing.T) {
	root := NewRootCommand()

	for _, flag := range []string{"-h", "-H", "--help", "--HELP"} {
		t.Run(flag, func(t *testing.T) {
			output, err := captureStdout(t, func() error {
				return root.ExecuteArgs([]string{flag})
			})
			assert.NoError(t, err)
			assert.Contains(t, output, "Usage: portalfs <command> [args]")
		})
	}
}

func TestCommandExecute_SubcommandWithArgs(t *testing.T) {
	root := NewRootCommand()

	var receivedArgs []string
	root.Subcommands["test"] = &Command{
		Name:        "test",
		Description: "Test command",
		Run: func(args []string) error {
			receivedArgs = args
			return nil
		},
	}

	err := root.ExecuteArgs([]string{"test", "-node", "7"})

	assert.NoError(t, err)
	assert.Equal(t, []string{"-node", "7"}, receivedArgs)
}

func TestCommandExecute_UnknownCommand(t *testing.T) {
	root := NewRootCommand()

	err := root.ExecuteArgs([]string{"nonexistent"})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command: nonexistent")
}

func TestCommandExecute_Version(t *testing.T) {
	root := NewRootCommand()

	output, err := captureStdout(t, func() error {
		return root.ExecuteArgs([]string{"version"})
	})
	require.NoError(t, err)
	assert.Equal(t, "portalfs dev\n", output)

	root.Version = "1.4.0"
	for _, arg := range []string{"-version", "--version"} {
		output, err = captureStdout(t, func() error {
			return root.ExecuteArgs([]string{arg})
		})
		require.NoError(t, err)
		assert.Equal(t, "portalfs 1.4.0\n", output, arg)
	}
}

func TestCommandExecute_UnknownCommandIsTyped(t *testing.T) {
	err := NewRootCommand().ExecuteArgs([]string{"rmdir"})
	assert.ErrorIs(t, err, ErrUnknownCommand)
}
