package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
)

func TestPlagiarismGroupsIdenticalBestAnswers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _, leafID := h.seedChain(t)

	activity, err := h.activities.Define(ctx, dto.ActivityRequest{NodeID: leafID, Title: "Essay", Kind: grading.KindFreeText})
	require.NoError(t, err)

	answers := map[uint]string{
		1: "The answer is  42\n\n",
		2: "The answer is 42",
		3: "Forty two, because of the towel.",
	}
	for _, userID := range []uint{1, 2, 3} {
		sub, err := h.submissions.Submit(ctx, userID, activity.ID, dto.SubmitRequest{Payload: map[string]interface{}{"text": answers[userID]}})
		require.NoError(t, err)
		_, err = h.submissions.ManualGrade(ctx, 99, sub.ID, dto.ManualGradeRequest{Grade: floatPtr(100)})
		require.NoError(t, err)
	}

	// an ungraded attempt is never the best one
	_, err = h.submissions.Submit(ctx, 4, activity.ID, dto.SubmitRequest{Payload: map[string]interface{}{"text": "The answer is 42"}})
	require.NoError(t, err)

	svc := NewPlagiarismService(h.store.Submissions, testLogger())

	groups, err := svc.Groups(ctx, activity.ID, nil)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, []uint{1, 2}, groups[0].UserIDs)
	require.Len(t, groups[0].SubmissionIDs, 2)
	require.NotEmpty(t, groups[0].Key)

	groups, err = svc.Groups(ctx, activity.ID, []uint{1, 3})
	require.NoError(t, err)
	require.Empty(t, groups)

	pairs, err := svc.Pairs(ctx, activity.ID, 0, nil)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	require.Equal(t, uint(1), pairs[0].UserA)
	require.Equal(t, uint(2), pairs[0].UserB)
	require.Equal(t, 1.0, pairs[0].Similarity)
}
