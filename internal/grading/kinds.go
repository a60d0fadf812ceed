package grading

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/noah-isme/gema-grader/internal/iospec"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/runner"
)

// Activity kinds shipped with the grader.
const (
	KindCodingIO = "coding_io"
	KindFreeText = "free_text"
)

// CodingIOSchema describes the payload of a coding_io submission.
const CodingIOSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["source", "language"],
  "properties": {
    "source": {"type": "string", "minLength": 1},
    "language": {"type": "string", "minLength": 1}
  }
}`

// FreeTextSchema describes the payload of a free_text submission.
const FreeTextSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["text"],
  "properties": {
    "text": {"type": "string"}
  }
}`

// ErrNoAnswerKey indicates no answer key can grade the requested language.
var ErrNoAnswerKey = errors.New("no answer key available")

// SpecProvider resolves the concrete specification submissions of an
// activity are graded against.
type SpecProvider interface {
	GradingSpec(ctx context.Context, activity *models.Activity, language string) (*iospec.Spec, error)
}

// CodeIOGrader runs the submitted program against the answer key and grades
// by the share of passing test cases.
type CodeIOGrader struct {
	specs     SpecProvider
	runner    runner.Runner
	timeout   time.Duration
	sanitizer *bluemonday.Policy
}

// NewCodeIOGrader constructs the coding_io grader.
func NewCodeIOGrader(specs SpecProvider, r runner.Runner, timeout time.Duration) *CodeIOGrader {
	return &CodeIOGrader{
		specs:     specs,
		runner:    r,
		timeout:   timeout,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// Grade implements Grader.
func (g *CodeIOGrader) Grade(ctx context.Context, activity *models.Activity, submission *models.Submission) (Result, error) {
	source, _ := submission.Payload["source"].(string)
	language, _ := submission.Payload["language"].(string)
	if strings.TrimSpace(source) == "" {
		return Result{}, NewInvalidResponse("source code is empty")
	}

	spec, err := g.specs.GradingSpec(ctx, activity, language)
	if errors.Is(err, runner.ErrUnsupportedLanguage) || errors.Is(err, ErrNoAnswerKey) {
		return Result{}, NewInvalidResponse("language %q cannot be graded for this activity", language)
	}
	if err != nil {
		return Result{}, err
	}

	run, err := g.runner.Run(ctx, runner.Request{
		Source:   source,
		Language: language,
		Spec:     spec,
		Sandbox:  true,
		Timeout:  g.timeout,
	})
	if errors.Is(err, runner.ErrUnsupportedLanguage) {
		return Result{}, NewInvalidResponse("language %q is not supported", language)
	}
	if err != nil {
		return Result{}, err
	}
	if run.BuildError != "" {
		return Result{}, NewInvalidResponse("program failed to build").
			WithDetail("output", g.sanitizer.Sanitize(run.BuildError))
	}

	cases := make([]interface{}, 0, spec.Len())
	passed := 0
	for i, expected := range spec.Cases {
		entry := map[string]interface{}{"index": i + 1}
		var got runner.CaseResult
		if i < len(run.Cases) {
			got = run.Cases[i]
		} else {
			got.Error = "test case was not executed"
		}

		switch {
		case got.Error != "":
			entry["passed"] = false
			entry["error"] = g.sanitizer.Sanitize(got.Error)
		case iospec.OutputsEqual(expected.Outputs, got.Output):
			entry["passed"] = true
			passed++
		default:
			entry["passed"] = false
			entry["diff"] = iospec.OutputDiff(expected.Outputs, got.Output)
		}
		cases = append(cases, entry)
	}

	grade := 0.0
	if spec.Len() > 0 {
		grade = 100 * float64(passed) / float64(spec.Len())
	}

	return Result{
		Grade: &grade,
		Feedback: map[string]interface{}{
			FeedbackKeyPassed: passed,
			FeedbackKeyTotal:  spec.Len(),
			FeedbackKeyCases:  cases,
		},
	}, nil
}

// FreeTextGrader leaves every submission to manual grading.
func FreeTextGrader() Grader {
	return GraderFunc(func(ctx context.Context, activity *models.Activity, submission *models.Submission) (Result, error) {
		text, _ := submission.Payload["text"].(string)
		if strings.TrimSpace(text) == "" {
			return Result{}, NewInvalidResponse("answer is empty")
		}
		return Result{}, nil
	})
}
