package models

import "time"

// Content node kinds.
const (
	NodeKindCourse   = "course"
	NodeKindSection  = "section"
	NodeKindActivity = "activity"
)

// ContentNode is a page of the course tree. Scores roll up along ParentID.
type ContentNode struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ParentID  *uint     `gorm:"index" json:"parent_id"`
	Slug      string    `gorm:"size:128;not null;uniqueIndex" json:"slug"`
	Title     string    `gorm:"size:255" json:"title"`
	Kind      string    `gorm:"size:32;not null" json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
