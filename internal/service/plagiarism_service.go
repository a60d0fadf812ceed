package service

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/hashing"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/plagiarism"
	"github.com/noah-isme/gema-grader/internal/repository"
)

// DefaultSimilarityThreshold is used when callers do not pick one.
const DefaultSimilarityThreshold = 0.9

// PlagiarismService compares the best submissions of different users.
type PlagiarismService interface {
	Groups(ctx context.Context, activityID uint, userIDs []uint) ([]dto.PlagiarismGroup, error)
	Pairs(ctx context.Context, activityID uint, threshold float64, userIDs []uint) ([]dto.PlagiarismPair, error)
}

type plagiarismService struct {
	submissions repository.SubmissionRepository
	logger      zerolog.Logger
}

// NewPlagiarismService constructs the plagiarism service.
func NewPlagiarismService(submissions repository.SubmissionRepository, logger zerolog.Logger) PlagiarismService {
	return &plagiarismService{
		submissions: submissions,
		logger:      logger.With().Str("component", "plagiarism_service").Logger(),
	}
}

type candidate struct {
	userID     uint
	submission models.Submission
}

func (s *plagiarismService) Groups(ctx context.Context, activityID uint, userIDs []uint) ([]dto.PlagiarismGroup, error) {
	candidates, err := s.bestPerUser(ctx, activityID, userIDs)
	if err != nil {
		return nil, err
	}

	groups := plagiarism.Suspicious(plagiarism.GroupIdentical(candidates, payloadKey))
	out := make([]dto.PlagiarismGroup, 0, len(groups))
	for _, g := range groups {
		group := dto.PlagiarismGroup{Key: hashing.Text(g.Key)}
		for _, c := range g.Items {
			group.UserIDs = append(group.UserIDs, c.userID)
			group.SubmissionIDs = append(group.SubmissionIDs, c.submission.ID)
		}
		out = append(out, group)
	}
	s.logger.Debug().Uint("activity_id", activityID).Int("groups", len(out)).Msg("identical submissions grouped")
	return out, nil
}

func (s *plagiarismService) Pairs(ctx context.Context, activityID uint, threshold float64, userIDs []uint) ([]dto.PlagiarismPair, error) {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSimilarityThreshold
	}
	candidates, err := s.bestPerUser(ctx, activityID, userIDs)
	if err != nil {
		return nil, err
	}

	pairs := plagiarism.FindIdentical(candidates, payloadKey, plagiarism.Similarity, threshold)
	out := make([]dto.PlagiarismPair, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, dto.PlagiarismPair{
			UserA:       p.A.userID,
			UserB:       p.B.userID,
			SubmissionA: p.A.submission.ID,
			SubmissionB: p.B.submission.ID,
			Similarity:  p.Similarity,
		})
	}
	return out, nil
}

func (s *plagiarismService) bestPerUser(ctx context.Context, activityID uint, userIDs []uint) ([]candidate, error) {
	submissions, err := s.submissions.ListByActivity(ctx, activityID, userIDs)
	if err != nil {
		return nil, err
	}

	byResponse := map[uint][]models.Submission{}
	users := map[uint]uint{}
	for _, sub := range submissions {
		byResponse[sub.ResponseID] = append(byResponse[sub.ResponseID], sub)
		users[sub.ResponseID] = sub.Response.UserID
	}

	var out []candidate
	for responseID, subs := range byResponse {
		if best := BestOf(subs); best != nil {
			out = append(out, candidate{userID: users[responseID], submission: *best})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].userID < out[j].userID })
	return out, nil
}

// payloadKey normalises source code payloads and falls back to the
// canonical JSON of other payloads.
func payloadKey(c candidate) string {
	if source, ok := c.submission.Payload["source"].(string); ok {
		return plagiarism.NormalizeSource(source)
	}
	if text, ok := c.submission.Payload["text"].(string); ok {
		return plagiarism.NormalizeSource(text)
	}
	canonical, err := hashing.Canonical(map[string]interface{}(c.submission.Payload))
	if err != nil {
		return ""
	}
	return string(canonical)
}
