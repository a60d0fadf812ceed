package dto

import (
	"time"

	"github.com/noah-isme/gema-grader/internal/models"
)

// SubmitRequest carries a new attempt at an activity.
type SubmitRequest struct {
	Payload   map[string]interface{} `json:"payload" validate:"required"`
	Autograde *bool                  `json:"autograde"`
	Recycle   *bool                  `json:"recycle"`
}

// RegradeRequest selects how a regrade reconciles old and new grades.
type RegradeRequest struct {
	Method string `json:"method" validate:"required,oneof=update best best-feedback worst worst-feedback"`
}

// ManualGradeRequest assigns an instructor grade.
type ManualGradeRequest struct {
	Grade *float64 `json:"grade" validate:"required,gte=0,lte=100"`
	Force bool     `json:"force"`
}

// StatisticsQuery scopes grade statistics of an activity.
type StatisticsQuery struct {
	Field   string `query:"field" validate:"omitempty,oneof=given final"`
	By      string `query:"by" validate:"omitempty,oneof=response submission"`
	UserIDs []uint `query:"-"`
}

// StatisticsResponse summarises grades.
type StatisticsResponse struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
}

// SubmissionResponse is returned for a single attempt.
type SubmissionResponse struct {
	ID             uint                   `json:"id"`
	ResponseID     uint                   `json:"response_id"`
	Status         string                 `json:"status"`
	GivenGrade     *float64               `json:"given_grade"`
	FinalGrade     *float64               `json:"final_grade"`
	ManualOverride bool                   `json:"manual_override"`
	Feedback       map[string]interface{} `json:"feedback,omitempty"`
	Message        string                 `json:"message"`
	Recycled       bool                   `json:"recycled"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// NewSubmissionResponse maps a submission together with its rendered
// feedback message.
func NewSubmissionResponse(submission models.Submission, message string) SubmissionResponse {
	return SubmissionResponse{
		ID:             submission.ID,
		ResponseID:     submission.ResponseID,
		Status:         submission.Status,
		GivenGrade:     submission.GivenGrade,
		FinalGrade:     submission.FinalGrade,
		ManualOverride: submission.ManualOverride,
		Feedback:       metadataFromJSON(submission.Feedback),
		Message:        message,
		Recycled:       submission.Recycled,
		CreatedAt:      submission.CreatedAt,
		UpdatedAt:      submission.UpdatedAt,
	}
}

// RegradeResponse reports the outcome of a regrade.
type RegradeResponse struct {
	Changed    bool               `json:"changed"`
	Submission SubmissionResponse `json:"submission"`
}

// FeedbackResponse carries the feedback of a submission.
type FeedbackResponse struct {
	Status   string                 `json:"status"`
	Message  string                 `json:"message"`
	Feedback map[string]interface{} `json:"feedback"`
}

// GradeEvent is broadcast when a submission receives a grade.
type GradeEvent struct {
	Type         string    `json:"type"`
	UserID       uint      `json:"user_id"`
	ActivityID   uint      `json:"activity_id"`
	NodeID       uint      `json:"node_id"`
	SubmissionID uint      `json:"submission_id"`
	Status       string    `json:"status"`
	Grade        float64   `json:"grade"`
	GradedAt     time.Time `json:"graded_at"`
}
