package docker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorkspaceStagesFiles(t *testing.T) {
	ws, err := NewWorkspace(map[string]string{"main.py": "print(1)\n", "cases/input-0.txt": "3\n"})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(ws.Dir, "cases", "input-0.txt"))
	require.NoError(t, err)
	require.Equal(t, "3\n", string(data))

	require.Error(t, ws.WriteFile("../outside.txt", "x"))

	require.NoError(t, ws.Close())
	_, err = os.Stat(ws.Dir)
	require.True(t, os.IsNotExist(err))
}

func TestShellCommand(t *testing.T) {
	require.Equal(t, "python3 main.py", ShellCommand("python3 main.py", ""))
	require.Equal(t, "./main < input-2.txt", ShellCommand("./main", "input-2.txt"))
}

func TestResultFailed(t *testing.T) {
	require.False(t, Result{}.Failed())
	require.True(t, Result{ExitCode: 1}.Failed())
	require.True(t, Result{TimedOut: true}.Failed())
}
