package models

import "time"

// Response statuses.
const (
	ResponseStatusOpened = "opened"
	ResponseStatusClosed = "closed"
)

// Response aggregates every submission a user made to one activity.
type Response struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	UserID      uint         `gorm:"not null;uniqueIndex:idx_response_user_activity" json:"user_id"`
	ActivityID  uint         `gorm:"not null;uniqueIndex:idx_response_user_activity" json:"activity_id"`
	Status      string       `gorm:"size:16;not null;default:opened" json:"status"`
	Grade       float64      `gorm:"not null;default:0" json:"grade"`
	Points      int          `gorm:"not null;default:0" json:"points"`
	Score       int          `gorm:"not null;default:0" json:"score"`
	Stars       float64      `gorm:"not null;default:0" json:"stars"`
	IsFinished  bool         `gorm:"not null;default:false" json:"is_finished"`
	IsCorrect   bool         `gorm:"not null;default:false" json:"is_correct"`
	FinishTime  *time.Time   `json:"finish_time"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Activity    Activity     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Submissions []Submission `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"submissions,omitempty"`
}
