package grading

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-grader/internal/iospec"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/runner"
)

type stubSpecs struct {
	spec *iospec.Spec
	err  error
}

func (s stubSpecs) GradingSpec(ctx context.Context, activity *models.Activity, language string) (*iospec.Spec, error) {
	return s.spec, s.err
}

type stubRunner struct {
	result  *runner.Result
	err     error
	request runner.Request
}

func (s *stubRunner) Run(ctx context.Context, req runner.Request) (*runner.Result, error) {
	s.request = req
	return s.result, s.err
}

func (s *stubRunner) Expand(ctx context.Context, spec *iospec.Spec, size int, language string) (*iospec.Spec, error) {
	return spec, nil
}

func codeSubmission(source string) *models.Submission {
	return &models.Submission{
		Status:  models.SubmissionStatusPending,
		Payload: datatypes.JSONMap{"source": source, "language": "python"},
	}
}

func TestCodeIOGraderScoresPassingCases(t *testing.T) {
	spec, err := iospec.Parse("<1>\n2\n\n<2>\n4\n\n<3>\n6\n\n<4>\n8")
	require.NoError(t, err)

	run := &stubRunner{result: &runner.Result{Cases: []runner.CaseResult{
		{Inputs: []string{"1"}, Output: []string{"2"}},
		{Inputs: []string{"2"}, Output: []string{"4"}},
		{Inputs: []string{"3"}, Output: []string{"7"}},
		{Inputs: []string{"4"}, Error: "program exited with status 1: <b>boom</b>"},
	}}}
	grader := NewCodeIOGrader(stubSpecs{spec: spec}, run, 0)

	res, err := grader.Grade(context.Background(), &models.Activity{Kind: KindCodingIO}, codeSubmission("print(int(input())*2)"))
	require.NoError(t, err)
	require.Equal(t, 50.0, *res.Grade)
	require.Equal(t, 2, res.Feedback[FeedbackKeyPassed])
	require.Equal(t, 4, res.Feedback[FeedbackKeyTotal])
	require.True(t, run.request.Sandbox)

	cases := res.Feedback[FeedbackKeyCases].([]interface{})
	third := cases[2].(map[string]interface{})
	require.Equal(t, false, third["passed"])
	require.Contains(t, third["diff"], "+7")

	fourth := cases[3].(map[string]interface{})
	require.NotContains(t, fourth["error"], "<b>")
}

func TestCodeIOGraderBuildFailureIsInvalid(t *testing.T) {
	spec, err := iospec.Parse("<1>\n2")
	require.NoError(t, err)

	grader := NewCodeIOGrader(stubSpecs{spec: spec}, &stubRunner{result: &runner.Result{BuildError: "syntax error"}}, 0)
	_, err = grader.Grade(context.Background(), &models.Activity{}, codeSubmission("def"))

	var invalid *InvalidResponseError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "syntax error", invalid.Details["output"])
}

func TestCodeIOGraderRejectsMissingAnswerKey(t *testing.T) {
	grader := NewCodeIOGrader(stubSpecs{err: ErrNoAnswerKey}, &stubRunner{}, 0)
	_, err := grader.Grade(context.Background(), &models.Activity{}, codeSubmission("print(1)"))

	var invalid *InvalidResponseError
	require.ErrorAs(t, err, &invalid)

	_, err = grader.Grade(context.Background(), &models.Activity{}, codeSubmission("  "))
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "source code is empty", invalid.Message)
}

func TestFreeTextGraderWaitsForManualGrade(t *testing.T) {
	res, err := FreeTextGrader().Grade(context.Background(), &models.Activity{}, &models.Submission{Payload: datatypes.JSONMap{"text": "essay"}})
	require.NoError(t, err)
	require.Nil(t, res.Grade)

	_, err = FreeTextGrader().Grade(context.Background(), &models.Activity{}, &models.Submission{Payload: datatypes.JSONMap{"text": ""}})
	require.Error(t, err)
}
