package grading

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyGraded is returned by ManualGrade when the submission holds a
	// grade and the caller asked to fail in that case.
	ErrAlreadyGraded = errors.New("submission has already been graded")
	// ErrUnknownKind indicates an activity kind without a registered grader.
	ErrUnknownKind = errors.New("unknown activity kind")
	// ErrInvalidRegradeMethod is returned for unsupported regrade strategies.
	ErrInvalidRegradeMethod = errors.New("invalid regrade method")
)

// InvalidResponseError reports a payload that cannot be evaluated. It is
// stored in the submission feedback and raised again on later access.
type InvalidResponseError struct {
	Message string
	Details map[string]interface{}
}

// NewInvalidResponse builds an InvalidResponseError.
func NewInvalidResponse(format string, args ...interface{}) *InvalidResponseError {
	return &InvalidResponseError{Message: fmt.Sprintf(format, args...)}
}

func (e *InvalidResponseError) Error() string {
	return "invalid response: " + e.Message
}

// WithDetail attaches diagnostic data to the error.
func (e *InvalidResponseError) WithDetail(key string, value interface{}) *InvalidResponseError {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

// Feedback encodes the error as submission feedback.
func (e *InvalidResponseError) Feedback() map[string]interface{} {
	feedback := map[string]interface{}{
		FeedbackKeyError: e.Message,
	}
	if len(e.Details) > 0 {
		details := make(map[string]interface{}, len(e.Details))
		for k, v := range e.Details {
			details[k] = v
		}
		feedback[FeedbackKeyDetails] = details
	}
	return feedback
}

// InvalidResponseFromFeedback restores the error stored by Feedback.
func InvalidResponseFromFeedback(feedback map[string]interface{}) *InvalidResponseError {
	err := &InvalidResponseError{Message: "response could not be evaluated"}
	if msg, ok := feedback[FeedbackKeyError].(string); ok && msg != "" {
		err.Message = msg
	}
	if details, ok := feedback[FeedbackKeyDetails].(map[string]interface{}); ok {
		err.Details = details
	}
	return err
}

// Feedback keys shared by graders.
const (
	FeedbackKeyError   = "error"
	FeedbackKeyDetails = "details"
	FeedbackKeyMessage = "message"
	FeedbackKeyCases   = "cases"
	FeedbackKeyPassed  = "passed"
	FeedbackKeyTotal   = "total"
)
