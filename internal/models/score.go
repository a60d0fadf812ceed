package models

import "time"

// TotalScore accumulates the score available under a content node.
type TotalScore struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	NodeID    uint      `gorm:"not null;uniqueIndex" json:"node_id"`
	Points    int       `gorm:"not null;default:0" json:"points"`
	Score     int       `gorm:"not null;default:0" json:"score"`
	Stars     float64   `gorm:"not null;default:0" json:"stars"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserScore accumulates what one user earned under a content node.
type UserScore struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_user_score_node" json:"user_id"`
	NodeID    uint      `gorm:"not null;uniqueIndex:idx_user_score_node" json:"node_id"`
	Points    int       `gorm:"not null;default:0" json:"points"`
	Score     int       `gorm:"not null;default:0" json:"score"`
	Stars     float64   `gorm:"not null;default:0" json:"stars"`
	UsedStars float64   `gorm:"not null;default:0" json:"used_stars"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AvailableStars returns the stars the user can still spend.
func (s UserScore) AvailableStars() float64 {
	return s.Stars - s.UsedStars
}
