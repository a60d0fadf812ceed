package dto

import (
	"time"

	"github.com/noah-isme/gema-grader/internal/models"
)

// ActivityRequest defines or updates an activity.
type ActivityRequest struct {
	NodeID     uint     `json:"node_id" validate:"required,gt=0"`
	Title      string   `json:"title" validate:"required,min=1,max=255"`
	Kind       string   `json:"kind" validate:"required"`
	Difficulty string   `json:"difficulty" validate:"omitempty,oneof=trivial very-easy easy regular hard very-hard challenge"`
	Points     *int     `json:"points" validate:"omitempty,gte=0"`
	Stars      *float64 `json:"stars" validate:"omitempty,gte=0"`
	IOSpec     string   `json:"iospec"`
	IOSpecSize int      `json:"iospec_size" validate:"omitempty,gte=1,lte=200"`
}

// ActivityResponse describes an activity.
type ActivityResponse struct {
	ID         uint      `json:"id"`
	NodeID     uint      `json:"node_id"`
	Title      string    `json:"title"`
	Kind       string    `json:"kind"`
	Difficulty string    `json:"difficulty"`
	Points     int       `json:"points"`
	Score      int       `json:"score"`
	Stars      float64   `json:"stars"`
	IOSpec     string    `json:"iospec,omitempty"`
	IOSpecSize int       `json:"iospec_size"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewActivityResponse maps an activity.
func NewActivityResponse(activity models.Activity) ActivityResponse {
	return ActivityResponse{
		ID:         activity.ID,
		NodeID:     activity.NodeID,
		Title:      activity.Title,
		Kind:       activity.Kind,
		Difficulty: activity.Difficulty.String(),
		Points:     activity.Points,
		Score:      activity.Score(),
		Stars:      activity.Stars,
		IOSpec:     activity.IOSpecSource,
		IOSpecSize: activity.IOSpecSize,
		CreatedAt:  activity.CreatedAt,
		UpdatedAt:  activity.UpdatedAt,
	}
}

// AnswerKeyRequest stores the reference solution for a language.
type AnswerKeyRequest struct {
	Language string `json:"language" validate:"required,min=1,max=32"`
	Source   string `json:"source" validate:"required"`
	Force    bool   `json:"force"`
}

// AnswerKeyResponse describes a validated answer key.
type AnswerKeyResponse struct {
	ID         uint      `json:"id"`
	ActivityID uint      `json:"activity_id"`
	Language   string    `json:"language"`
	IOSpecSize int       `json:"iospec_size"`
	IOSpecHash string    `json:"iospec_hash"`
	SourceHash string    `json:"source_hash"`
	IsValid    bool      `json:"is_valid"`
	IOSpec     string    `json:"iospec,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewAnswerKeyResponse maps an answer key.
func NewAnswerKeyResponse(key models.AnswerKey) AnswerKeyResponse {
	return AnswerKeyResponse{
		ID:         key.ID,
		ActivityID: key.ActivityID,
		Language:   key.Language,
		IOSpecSize: key.IOSpecSize,
		IOSpecHash: key.IOSpecHash,
		SourceHash: key.SourceHash,
		IsValid:    key.IsValid,
		IOSpec:     key.IOSpec,
		UpdatedAt:  key.UpdatedAt,
	}
}

// ValidationErrorResponse details why a reference solution was rejected.
type ValidationErrorResponse struct {
	Message    string `json:"message"`
	CaseIndex  int    `json:"case_index,omitempty"`
	CaseSource string `json:"case_source,omitempty"`
	Diff       string `json:"diff,omitempty"`
}
