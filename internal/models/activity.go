package models

import (
	"strings"
	"time"
)

// Difficulty ranks how demanding an activity is.
type Difficulty int

// Difficulty tiers, from easiest to hardest.
const (
	DifficultyTrivial Difficulty = iota
	DifficultyVeryEasy
	DifficultyEasy
	DifficultyRegular
	DifficultyHard
	DifficultyVeryHard
	DifficultyChallenge
)

// DefaultDifficulty is assigned to activities that do not declare a tier.
const DefaultDifficulty = DifficultyRegular

var difficultyPoints = [...]int{10, 30, 60, 100, 150, 250, 500}

var difficultyNames = [...]string{"trivial", "very-easy", "easy", "regular", "hard", "very-hard", "challenge"}

// Valid reports whether d is a known tier.
func (d Difficulty) Valid() bool {
	return d >= DifficultyTrivial && d <= DifficultyChallenge
}

// DefaultPoints returns the points an activity of this tier is worth when
// the author did not set a value.
func (d Difficulty) DefaultPoints() int {
	if !d.Valid() {
		return difficultyPoints[DefaultDifficulty]
	}
	return difficultyPoints[d]
}

func (d Difficulty) String() string {
	if !d.Valid() {
		return "unknown"
	}
	return difficultyNames[d]
}

// ParseDifficulty resolves a tier by name. Empty names map to the default.
func ParseDifficulty(name string) (Difficulty, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DefaultDifficulty, true
	}
	for i, candidate := range difficultyNames {
		if candidate == name {
			return Difficulty(i), true
		}
	}
	return DefaultDifficulty, false
}

// ScoreFromPoints converts a points value into the leaderboard score.
func ScoreFromPoints(points int) int {
	return points
}

// Activity is a graded exercise attached to a content node.
type Activity struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	NodeID       uint        `gorm:"not null;uniqueIndex" json:"node_id"`
	Title        string      `gorm:"size:255;not null" json:"title"`
	Kind         string      `gorm:"size:32;not null" json:"kind"`
	Points       int         `gorm:"not null;default:0" json:"points"`
	Stars        float64     `gorm:"not null;default:0" json:"stars"`
	Difficulty   Difficulty  `gorm:"not null" json:"difficulty"`
	IOSpecSource string      `gorm:"column:iospec_source;type:text" json:"iospec_source"`
	IOSpecSize   int         `gorm:"column:iospec_size;not null;default:10" json:"iospec_size"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	AnswerKeys   []AnswerKey `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"answer_keys,omitempty"`
}

// Score returns the leaderboard score the activity is worth.
func (a Activity) Score() int {
	return ScoreFromPoints(a.Points)
}
