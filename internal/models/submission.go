package models

import (
	"time"

	"gorm.io/datatypes"
)

// Submission statuses.
const (
	SubmissionStatusPending    = "pending"
	SubmissionStatusIncomplete = "incomplete"
	SubmissionStatusWaiting    = "waiting"
	SubmissionStatusInvalid    = "invalid"
	SubmissionStatusDone       = "done"
)

// Submission is one attempt at an activity.
type Submission struct {
	ID             uint              `gorm:"primaryKey" json:"id"`
	ResponseID     uint              `gorm:"not null;index:idx_submission_response_hash" json:"response_id"`
	Hash           string            `gorm:"size:32;index:idx_submission_response_hash" json:"hash"`
	Payload        datatypes.JSONMap `json:"payload"`
	Status         string            `gorm:"size:16;not null;default:pending" json:"status"`
	GivenGrade     *float64          `json:"given_grade"`
	FinalGrade     *float64          `json:"final_grade"`
	ManualOverride bool              `gorm:"not null;default:false" json:"manual_override"`
	Feedback       datatypes.JSONMap `json:"feedback"`
	CreatedAt      time.Time         `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	Response       Response          `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`

	// Recycled is set when the submission was returned in place of a new
	// identical one.
	Recycled bool `gorm:"-" json:"recycled"`
}

// IsGraded reports whether the submission holds a final grade.
func (s Submission) IsGraded() bool {
	return s.Status == SubmissionStatusDone || s.Status == SubmissionStatusInvalid
}

// Grade returns the final grade, or zero when none was set.
func (s Submission) Grade() float64 {
	if s.FinalGrade == nil {
		return 0
	}
	return *s.FinalGrade
}
