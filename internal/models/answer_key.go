package models

import "time"

// AnswerKey holds the reference solution of a code activity for one language
// together with the specification it expanded to.
type AnswerKey struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ActivityID uint      `gorm:"not null;uniqueIndex:idx_answer_key_language" json:"activity_id"`
	Language   string    `gorm:"size:32;not null;uniqueIndex:idx_answer_key_language" json:"language"`
	Source     string    `gorm:"type:text" json:"source"`
	IOSpec     string    `gorm:"column:iospec;type:text" json:"iospec"`
	IOSpecSize int       `gorm:"column:iospec_size;not null;default:0" json:"iospec_size"`
	IOSpecHash string    `gorm:"column:iospec_hash;size:32" json:"iospec_hash"`
	SourceHash string    `gorm:"size:32" json:"source_hash"`
	IsValid    bool      `gorm:"not null;default:false" json:"is_valid"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsExpanded reports whether the key carries an expanded specification.
func (k AnswerKey) IsExpanded() bool {
	return k.IOSpec != ""
}
