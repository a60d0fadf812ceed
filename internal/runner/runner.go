// Package runner executes program sources against I/O specifications.
package runner

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/iospec"
	dockerexec "github.com/noah-isme/gema-grader/pkg/docker"
)

// ErrUnsupportedLanguage is returned for languages without a runtime image.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Language describes how a program is staged, built and run.
type Language struct {
	Image      string
	SourceFile string
	Build      string
	Run        string
}

// DefaultLanguages lists the runtimes available out of the box.
var DefaultLanguages = map[string]Language{
	"python": {
		Image:      "python:3.12-alpine",
		SourceFile: "main.py",
		Run:        "python3 main.py",
	},
	"javascript": {
		Image:      "node:20-alpine",
		SourceFile: "main.js",
		Run:        "node main.js",
	},
	"go": {
		Image:      "golang:1.24-alpine",
		SourceFile: "main.go",
		Build:      "go build -o main main.go",
		Run:        "./main",
	},
}

// Request asks for source to be run against every case of Spec.
type Request struct {
	Source   string
	Language string
	Spec     *iospec.Spec
	Sandbox  bool
	Timeout  time.Duration
}

// CaseResult is the outcome of one test case.
type CaseResult struct {
	Inputs   []string
	Output   []string
	Error    string
	TimedOut bool
}

// Result collects per-case outcomes of a run.
type Result struct {
	Cases      []CaseResult
	BuildError string
}

// HasErrors reports whether the build or any case failed to execute.
func (r *Result) HasErrors() bool {
	if r.BuildError != "" {
		return true
	}
	for _, c := range r.Cases {
		if c.Error != "" {
			return true
		}
	}
	return false
}

// ErrorMessage returns the first execution error of the run.
func (r *Result) ErrorMessage() string {
	if r.BuildError != "" {
		return r.BuildError
	}
	for i, c := range r.Cases {
		if c.Error != "" {
			return fmt.Sprintf("test case %d: %s", i+1, c.Error)
		}
	}
	return ""
}

// Spec turns the produced output into a concrete specification.
func (r *Result) Spec() *iospec.Spec {
	spec := &iospec.Spec{Cases: make([]iospec.Case, len(r.Cases))}
	for i, c := range r.Cases {
		spec.Cases[i] = iospec.Case{
			Kind:    iospec.CaseIO,
			Inputs:  append([]string(nil), c.Inputs...),
			Outputs: append([]string(nil), c.Output...),
		}
	}
	return spec
}

// Runner is the code execution collaborator used by grading and answer key
// validation.
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
	Expand(ctx context.Context, spec *iospec.Spec, size int, language string) (*iospec.Spec, error)
}

// Config groups runner settings.
type Config struct {
	Timeout       time.Duration
	MemoryLimitMB int64
	CPUShares     int64
	Languages     map[string]Language
	Logger        zerolog.Logger
}

// DockerRunner runs programs through a container executor, one container per
// test case.
type DockerRunner struct {
	executor  dockerexec.Executor
	cfg       Config
	languages map[string]Language
	logger    zerolog.Logger
}

// NewDockerRunner constructs a runner on top of executor.
func NewDockerRunner(executor dockerexec.Executor, cfg Config) *DockerRunner {
	languages := cfg.Languages
	if len(languages) == 0 {
		languages = DefaultLanguages
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &DockerRunner{
		executor:  executor,
		cfg:       cfg,
		languages: languages,
		logger:    cfg.Logger.With().Str("component", "runner").Logger(),
	}
}

// Languages returns the sorted language names the runner supports.
func (r *DockerRunner) Languages() []string {
	names := make([]string, 0, len(r.languages))
	for name := range r.languages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Expand fills spec up to size cases. Generator seeds derive from the
// specification source so repeated expansions agree.
func (r *DockerRunner) Expand(ctx context.Context, spec *iospec.Spec, size int, language string) (*iospec.Spec, error) {
	if _, ok := r.languages[language]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	return ExpandSpec(spec, size)
}

// ExpandSpec expands the inputs of spec with a seed derived from its source.
func ExpandSpec(spec *iospec.Spec, size int) (*iospec.Spec, error) {
	h := fnv.New64a()
	h.Write([]byte(spec.Source()))
	return spec.ExpandInputs(size, rand.New(rand.NewSource(int64(h.Sum64()))))
}

// Run builds the program when its language needs it and then feeds every
// test case on stdin. A case that crashes or times out only marks that case.
func (r *DockerRunner) Run(ctx context.Context, req Request) (*Result, error) {
	lang, ok := r.languages[req.Language]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, req.Language)
	}
	if req.Spec == nil {
		return nil, errors.New("runner: spec is required")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}

	files := map[string]string{lang.SourceFile: req.Source}
	for i, c := range req.Spec.Cases {
		files[inputFile(i)] = c.Stdin()
	}
	ws, err := dockerexec.NewWorkspace(files)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := ws.Close(); err != nil {
			r.logger.Warn().Err(err).Str("workspace", ws.Dir).Msg("failed to remove workspace")
		}
	}()

	job := dockerexec.Job{
		Image:           lang.Image,
		Workspace:       ws.Dir,
		MemoryLimitMB:   r.cfg.MemoryLimitMB,
		CPUShares:       r.cfg.CPUShares,
		NetworkDisabled: req.Sandbox,
	}

	result := &Result{}
	if lang.Build != "" {
		build := job
		build.Command = lang.Build
		build.Timeout = 4 * timeout
		out, err := r.executor.Run(ctx, build)
		if err != nil && !errors.Is(err, dockerexec.ErrTimeout) {
			return nil, fmt.Errorf("build: %w", err)
		}
		if out.Failed() {
			result.BuildError = describeFailure(out, build.Timeout)
			return result, nil
		}
	}

	for i, c := range req.Spec.Cases {
		caseJob := job
		caseJob.Command = lang.Run
		caseJob.StdinFile = inputFile(i)
		caseJob.Timeout = timeout

		out, err := r.executor.Run(ctx, caseJob)
		if err != nil && !errors.Is(err, dockerexec.ErrTimeout) {
			return nil, fmt.Errorf("test case %d: %w", i+1, err)
		}

		cr := CaseResult{
			Inputs:   append([]string(nil), c.Inputs...),
			Output:   iospec.SplitOutput(out.Stdout),
			TimedOut: out.TimedOut,
		}
		if out.Failed() {
			cr.Error = describeFailure(out, timeout)
		}
		result.Cases = append(result.Cases, cr)
	}

	r.logger.Debug().
		Str("language", req.Language).
		Int("cases", len(result.Cases)).
		Bool("errors", result.HasErrors()).
		Msg("program run completed")
	return result, nil
}

func inputFile(i int) string {
	return fmt.Sprintf("input-%d.txt", i)
}

func describeFailure(out dockerexec.Result, timeout time.Duration) string {
	if out.TimedOut {
		return fmt.Sprintf("execution timed out after %s", timeout)
	}
	msg := strings.TrimSpace(out.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(out.Stdout)
	}
	if msg == "" {
		return fmt.Sprintf("program exited with status %d", out.ExitCode)
	}
	return fmt.Sprintf("program exited with status %d: %s", out.ExitCode, msg)
}
