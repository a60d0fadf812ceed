package service

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/hashing"
	"github.com/noah-isme/gema-grader/internal/iospec"
)

const fourCases = "<1>\n2\n\n<2>\n4\n\n<3>\n6\n\n<4>\n8"

func TestAnswerKeySaveExpandsTemplates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, leafID := h.seedChain(t)

	source := "<1>\n2\n\n@input $int(1, 50)"
	activity := h.codingActivity(t, leafID, 100, 1, source, 10)

	keys, err := h.answerKeys.List(ctx, activity.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.True(t, keys[0].IsValid)
	require.Equal(t, 10, keys[0].IOSpecSize)
	require.Equal(t, hashing.Text("double"), keys[0].SourceHash)
	require.Equal(t, hashing.SpecKey(source, 10), keys[0].IOSpecHash)

	stored, err := h.store.AnswerKeys.Get(ctx, activity.ID, "python")
	require.NoError(t, err)
	spec, err := iospec.Parse(stored.IOSpec)
	require.NoError(t, err)
	require.Equal(t, 10, spec.Len())
	require.True(t, spec.IsSimple())
	for _, c := range spec.Cases {
		n, err := strconv.Atoi(c.Inputs[0])
		require.NoError(t, err)
		require.Equal(t, []string{strconv.Itoa(2 * n)}, c.Outputs)
	}

	var cached []string
	for _, key := range h.redis.Keys() {
		if strings.HasPrefix(key, "grader:spec:") {
			cached = append(cached, key)
		}
	}
	require.Len(t, cached, 1)

	// same source and specification: nothing to rerun
	runs := h.runner.runCount()
	_, err = h.answerKeys.Save(ctx, activity.ID, dto.AnswerKeyRequest{Language: "python", Source: "double"})
	require.NoError(t, err)
	require.Equal(t, runs, h.runner.runCount())

	_, err = h.answerKeys.Save(ctx, activity.ID, dto.AnswerKeyRequest{Language: "python", Source: "double", Force: true})
	require.NoError(t, err)
	require.Greater(t, h.runner.runCount(), runs)
}

func TestAnswerKeyMismatchReportsCaseAndPersistsNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, leafID := h.seedChain(t)

	activity, err := h.activities.Define(ctx, dto.ActivityRequest{
		NodeID: leafID, Title: "Double", Kind: grading.KindCodingIO, IOSpec: fourCases, IOSpecSize: 4,
	})
	require.NoError(t, err)

	_, err = h.answerKeys.Save(ctx, activity.ID, dto.AnswerKeyRequest{Language: "python", Source: "wrong-on-3"})
	var invalid *ValidationError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, 3, invalid.CaseIndex)
	require.Equal(t, "<3>\n6", invalid.CaseSource)
	require.Contains(t, invalid.Diff, "-6")
	require.Contains(t, invalid.Diff, "+7")

	keys, err := h.answerKeys.List(ctx, activity.ID)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestAnswerKeyFailedReplacementKeepsValidKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, leafID := h.seedChain(t)

	activity, err := h.activities.Define(ctx, dto.ActivityRequest{
		NodeID: leafID, Title: "Double", Kind: grading.KindCodingIO, IOSpec: fourCases, IOSpecSize: 4,
	})
	require.NoError(t, err)

	_, err = h.answerKeys.Save(ctx, activity.ID, dto.AnswerKeyRequest{Language: "python", Source: "double"})
	require.NoError(t, err)
	before, err := h.store.AnswerKeys.Get(ctx, activity.ID, "python")
	require.NoError(t, err)

	_, err = h.answerKeys.Save(ctx, activity.ID, dto.AnswerKeyRequest{Language: "python", Source: "wrong-on-3"})
	var invalid *ValidationError
	require.ErrorAs(t, err, &invalid)

	after, err := h.store.AnswerKeys.Get(ctx, activity.ID, "python")
	require.NoError(t, err)
	require.Equal(t, "double", after.Source)
	require.True(t, after.IsValid)
	require.Equal(t, before.IOSpec, after.IOSpec)
	require.Equal(t, before.IOSpecHash, after.IOSpecHash)
}

func TestAnswerKeyRuntimeFailureIsLocalized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, leafID := h.seedChain(t)

	activity, err := h.activities.Define(ctx, dto.ActivityRequest{
		NodeID: leafID, Title: "Double", Kind: grading.KindCodingIO, IOSpec: fourCases, IOSpecSize: 4,
	})
	require.NoError(t, err)

	_, err = h.answerKeys.Save(ctx, activity.ID, dto.AnswerKeyRequest{Language: "python", Source: "crash-on-4"})
	var invalid *ValidationError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, 4, invalid.CaseIndex)
	require.Equal(t, "exit status 1", invalid.Message)
	require.Equal(t, "<4>\n8", invalid.CaseSource)

	_, err = h.answerKeys.Save(ctx, activity.ID, dto.AnswerKeyRequest{Language: "python", Source: "print("})
	require.ErrorAs(t, err, &invalid)
	require.Zero(t, invalid.CaseIndex)
	require.Contains(t, invalid.Message, "failed to build")

	_, err = h.answerKeys.Save(ctx, activity.ID, dto.AnswerKeyRequest{Language: "cobol", Source: "double"})
	require.ErrorAs(t, err, &invalid)
	require.Contains(t, invalid.Message, "not supported")

	_, err = h.answerKeys.Save(ctx, 999, dto.AnswerKeyRequest{Language: "python", Source: "double"})
	require.ErrorIs(t, err, ErrActivityNotFound)
}

func TestGradingSpecFallbacks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	courseID, _, leafID := h.seedChain(t)

	templated := h.codingActivity(t, leafID, 100, 0, "@input $int(1, 9)", 5)
	activity := h.activityModel(t, templated.ID)

	spec, err := h.answerKeys.GradingSpec(ctx, activity, "python")
	require.NoError(t, err)
	require.Equal(t, 5, spec.Len())
	require.True(t, spec.IsSimple())

	// no javascript key: the expanded python key still grades it
	spec, err = h.answerKeys.GradingSpec(ctx, activity, "javascript")
	require.NoError(t, err)
	require.Equal(t, 5, spec.Len())

	simpleNode := h.addNode(t, "simple", courseID)
	simple, err := h.activities.Define(ctx, dto.ActivityRequest{
		NodeID: simpleNode, Title: "Simple", Kind: grading.KindCodingIO, IOSpec: fourCases, IOSpecSize: 4,
	})
	require.NoError(t, err)
	spec, err = h.answerKeys.GradingSpec(ctx, h.activityModel(t, simple.ID), "python")
	require.NoError(t, err)
	require.Equal(t, 4, spec.Len())

	bareNode := h.addNode(t, "bare", courseID)
	bare, err := h.activities.Define(ctx, dto.ActivityRequest{
		NodeID: bareNode, Title: "Bare", Kind: grading.KindCodingIO, IOSpec: "@input $int(1, 9)", IOSpecSize: 3,
	})
	require.NoError(t, err)
	_, err = h.answerKeys.GradingSpec(ctx, h.activityModel(t, bare.ID), "python")
	require.ErrorIs(t, err, grading.ErrNoAnswerKey)
}

func TestGradingSpecRevalidatesStaleKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, leafID := h.seedChain(t)

	created := h.codingActivity(t, leafID, 100, 0, "<1>\n2", 1)
	activity := h.activityModel(t, created.ID)
	activity.IOSpecSource = "<1>\n2\n\n<5>\n10"
	activity.IOSpecSize = 2

	runs := h.runner.runCount()
	spec, err := h.answerKeys.GradingSpec(ctx, activity, "python")
	require.NoError(t, err)
	require.Equal(t, 2, spec.Len())
	require.Greater(t, h.runner.runCount(), runs)

	stored, err := h.store.AnswerKeys.Get(ctx, activity.ID, "python")
	require.NoError(t, err)
	require.Equal(t, hashing.SpecKey(activity.IOSpecSource, 2), stored.IOSpecHash)
}
