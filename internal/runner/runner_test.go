package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/iospec"
	dockerexec "github.com/noah-isme/gema-grader/pkg/docker"
)

// stubExecutor emulates a program that greets whatever it reads on stdin.
type stubExecutor struct {
	jobs      []dockerexec.Job
	buildFail bool
	crashOn   string
	hangOn    string
	err       error
}

func (s *stubExecutor) Run(ctx context.Context, job dockerexec.Job) (dockerexec.Result, error) {
	s.jobs = append(s.jobs, job)
	if s.err != nil {
		return dockerexec.Result{}, s.err
	}
	if job.StdinFile == "" {
		if s.buildFail {
			return dockerexec.Result{ExitCode: 1, Stderr: "main.go:3: syntax error\n"}, nil
		}
		return dockerexec.Result{}, nil
	}

	data, err := os.ReadFile(filepath.Join(job.Workspace, job.StdinFile))
	if err != nil {
		return dockerexec.Result{}, err
	}
	name := strings.TrimSpace(string(data))
	switch name {
	case s.crashOn:
		return dockerexec.Result{ExitCode: 1, Stderr: "Traceback: ZeroDivisionError\n"}, nil
	case s.hangOn:
		return dockerexec.Result{TimedOut: true}, dockerexec.ErrTimeout
	}
	return dockerexec.Result{Stdout: "Hello " + name + "!\n"}, nil
}

func parseSpec(t *testing.T, source string) *iospec.Spec {
	t.Helper()
	spec, err := iospec.Parse(source)
	require.NoError(t, err)
	return spec
}

func TestDockerRunnerRunsEveryCase(t *testing.T) {
	exec := &stubExecutor{}
	r := NewDockerRunner(exec, Config{Timeout: time.Second, Logger: zerolog.Nop()})

	result, err := r.Run(context.Background(), Request{
		Source:   "print('Hello ' + input() + '!')",
		Language: "python",
		Spec:     parseSpec(t, "<John>\nHello John!\n\n@input Maria"),
		Sandbox:  true,
	})
	require.NoError(t, err)
	require.False(t, result.HasErrors())
	require.Len(t, result.Cases, 2)
	require.Equal(t, []string{"Hello Maria!"}, result.Cases[1].Output)

	produced := result.Spec()
	require.True(t, produced.IsSimple())
	require.Equal(t, "<John>\nHello John!\n\n<Maria>\nHello Maria!", produced.Source())

	require.Len(t, exec.jobs, 2)
	require.True(t, exec.jobs[0].NetworkDisabled)
	require.Equal(t, "python3 main.py", exec.jobs[0].Command)
	require.Equal(t, "input-1.txt", exec.jobs[1].StdinFile)
}

func TestDockerRunnerMarksFailingCases(t *testing.T) {
	exec := &stubExecutor{crashOn: "0", hangOn: "loop"}
	r := NewDockerRunner(exec, Config{Timeout: time.Second, Logger: zerolog.Nop()})

	result, err := r.Run(context.Background(), Request{
		Language: "python",
		Spec:     parseSpec(t, "@input 1\n\n@input 0\n\n@input loop"),
	})
	require.NoError(t, err)
	require.True(t, result.HasErrors())
	require.Empty(t, result.Cases[0].Error)
	require.Contains(t, result.Cases[1].Error, "ZeroDivisionError")
	require.True(t, result.Cases[2].TimedOut)
	require.Equal(t, "execution timed out after 1s", result.Cases[2].Error)
	require.True(t, strings.HasPrefix(result.ErrorMessage(), "test case 2:"))
}

func TestDockerRunnerReportsBuildErrors(t *testing.T) {
	exec := &stubExecutor{buildFail: true}
	r := NewDockerRunner(exec, Config{Logger: zerolog.Nop()})

	result, err := r.Run(context.Background(), Request{
		Language: "go",
		Spec:     parseSpec(t, "<a>\nHello a!"),
	})
	require.NoError(t, err)
	require.True(t, result.HasErrors())
	require.Empty(t, result.Cases)
	require.Contains(t, result.ErrorMessage(), "syntax error")
	require.Len(t, exec.jobs, 1)
}

func TestDockerRunnerPropagatesDaemonErrors(t *testing.T) {
	exec := &stubExecutor{err: errors.New("daemon unavailable")}
	r := NewDockerRunner(exec, Config{Logger: zerolog.Nop()})

	_, err := r.Run(context.Background(), Request{Language: "python", Spec: parseSpec(t, "<a>\nb")})
	require.ErrorContains(t, err, "daemon unavailable")
}

func TestDockerRunnerRejectsUnknownLanguage(t *testing.T) {
	r := NewDockerRunner(&stubExecutor{}, Config{Logger: zerolog.Nop()})

	_, err := r.Run(context.Background(), Request{Language: "cobol", Spec: parseSpec(t, "<a>\nb")})
	require.ErrorIs(t, err, ErrUnsupportedLanguage)

	_, err = r.Expand(context.Background(), parseSpec(t, "<a>\nb"), 3, "cobol")
	require.ErrorIs(t, err, ErrUnsupportedLanguage)
	require.Equal(t, []string{"go", "javascript", "python"}, r.Languages())
}

func TestExpandIsStableAcrossCalls(t *testing.T) {
	r := NewDockerRunner(&stubExecutor{}, Config{Logger: zerolog.Nop()})
	spec := parseSpec(t, "@input $int(1, 1000), $word")

	first, err := r.Expand(context.Background(), spec, 10, "python")
	require.NoError(t, err)
	second, err := r.Expand(context.Background(), spec, 10, "python")
	require.NoError(t, err)

	require.Equal(t, 10, first.Len())
	require.Equal(t, first.Source(), second.Source())
}
