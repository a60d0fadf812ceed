package dto

import "github.com/noah-isme/gema-grader/internal/models"

// ScoreResponse is a score row of the content tree.
type ScoreResponse struct {
	NodeID         uint     `json:"node_id"`
	UserID         *uint    `json:"user_id,omitempty"`
	Points         int      `json:"points"`
	Score          int      `json:"score"`
	Stars          float64  `json:"stars"`
	AvailableStars *float64 `json:"available_stars,omitempty"`
}

// NewTotalScoreResponse maps a node aggregate.
func NewTotalScoreResponse(row models.TotalScore) ScoreResponse {
	return ScoreResponse{NodeID: row.NodeID, Points: row.Points, Score: row.Score, Stars: row.Stars}
}

// NewUserScoreResponse maps a user aggregate.
func NewUserScoreResponse(row models.UserScore) ScoreResponse {
	userID := row.UserID
	available := row.AvailableStars()
	return ScoreResponse{
		NodeID:         row.NodeID,
		UserID:         &userID,
		Points:         row.Points,
		Score:          row.Score,
		Stars:          row.Stars,
		AvailableStars: &available,
	}
}

// SpendStarsRequest spends earned stars.
type SpendStarsRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

// RecomputeRequest asks for a subtree to be rebuilt.
type RecomputeRequest struct {
	UserID *uint `json:"user_id"`
}

// PlagiarismPair links two users whose best submissions look alike.
type PlagiarismPair struct {
	UserA       uint    `json:"user_a"`
	UserB       uint    `json:"user_b"`
	SubmissionA uint    `json:"submission_a"`
	SubmissionB uint    `json:"submission_b"`
	Similarity  float64 `json:"similarity"`
}

// PlagiarismGroup gathers users whose best submissions normalise to the same
// key.
type PlagiarismGroup struct {
	Key           string `json:"key"`
	UserIDs       []uint `json:"user_ids"`
	SubmissionIDs []uint `json:"submission_ids"`
}
