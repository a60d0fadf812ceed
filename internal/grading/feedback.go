package grading

import (
	"fmt"
	"math"

	"github.com/noah-isme/gema-grader/internal/models"
)

// Feedback messages shown to students.
const (
	MessageOK              = "Congratulations! Your response is correct!"
	MessageOKWithPenalties = "Your response is correct, but you did not achieve the maximum grade."
	MessageWrong           = "I'm sorry, your response is wrong."
	MessagePartialFormat   = "Your answer is partially correct: you achieved only %d%% of the total grade."
	MessageNotGraded       = "Your response has not been graded yet!"
	MessageInvalidPrefix   = "Your response could not be evaluated: "
)

// Message summarises the grading state of a submission for the student.
func Message(submission *models.Submission) string {
	switch submission.Status {
	case models.SubmissionStatusDone:
	case models.SubmissionStatusInvalid:
		return MessageInvalidPrefix + InvalidResponseFromFeedback(submission.Feedback).Message
	default:
		return MessageNotGraded
	}

	final := gradeOf(submission.FinalGrade)
	given := gradeOf(submission.GivenGrade)
	switch {
	case final == 100:
		return MessageOK
	case given == 100:
		return MessageOKWithPenalties
	case given == 0 && final == 0:
		return MessageWrong
	default:
		return fmt.Sprintf(MessagePartialFormat, int(math.Floor(final)))
	}
}
