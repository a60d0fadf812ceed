package service

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/scoring"
)

// ErrScoreNotFound indicates no score row exists yet for the node.
var ErrScoreNotFound = errors.New("score not found")

// ScoreService reads and repairs the score tree.
type ScoreService interface {
	Total(ctx context.Context, nodeID uint) (dto.ScoreResponse, error)
	User(ctx context.Context, userID, nodeID uint) (dto.ScoreResponse, error)
	ListUser(ctx context.Context, userID uint) ([]dto.ScoreResponse, error)
	Recompute(ctx context.Context, actorID, nodeID uint, payload dto.RecomputeRequest) (dto.ScoreResponse, error)
	SpendStars(ctx context.Context, userID, nodeID uint, payload dto.SpendStarsRequest) (dto.ScoreResponse, error)
}

type scoreService struct {
	store     *repository.Store
	tree      *scoring.Tree
	audit     AuditRecorder
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewScoreService constructs the score service. audit may be nil.
func NewScoreService(store *repository.Store, audit AuditRecorder, validate *validator.Validate, logger zerolog.Logger) ScoreService {
	return &scoreService{
		store:     store,
		tree:      scoring.NewTree(store.Scores, logger),
		audit:     audit,
		validator: validate,
		logger:    logger.With().Str("component", "score_service").Logger(),
	}
}

func (s *scoreService) Total(ctx context.Context, nodeID uint) (dto.ScoreResponse, error) {
	row, err := s.store.Scores.GetTotal(ctx, nodeID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.ScoreResponse{}, ErrScoreNotFound
	}
	if err != nil {
		return dto.ScoreResponse{}, err
	}
	return dto.NewTotalScoreResponse(row), nil
}

func (s *scoreService) User(ctx context.Context, userID, nodeID uint) (dto.ScoreResponse, error) {
	row, err := s.store.Scores.GetUserScore(ctx, userID, nodeID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.ScoreResponse{}, ErrScoreNotFound
	}
	if err != nil {
		return dto.ScoreResponse{}, err
	}
	return dto.NewUserScoreResponse(row), nil
}

func (s *scoreService) ListUser(ctx context.Context, userID uint) ([]dto.ScoreResponse, error) {
	rows, err := s.store.Scores.ListUserScores(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]dto.ScoreResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, dto.NewUserScoreResponse(row))
	}
	return out, nil
}

// Recompute rebuilds the subtree rooted at nodeID from the activities it
// hosts, or from the responses of one user.
func (s *scoreService) Recompute(ctx context.Context, actorID, nodeID uint, payload dto.RecomputeRequest) (dto.ScoreResponse, error) {
	if _, err := s.store.Nodes.GetByID(ctx, nodeID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ScoreResponse{}, ErrNodeNotFound
		}
		return dto.ScoreResponse{}, err
	}

	ref := scoring.TotalRef(nodeID)
	if payload.UserID != nil {
		ref = scoring.UserRef(*payload.UserID, nodeID)
	}

	values, err := s.tree.RecomputeTotal(ctx, ref)
	if err != nil {
		return dto.ScoreResponse{}, err
	}

	metadata := map[string]interface{}{
		"flavour": ref.Flavour.String(),
		"points":  values.Points,
		"score":   values.Score,
		"stars":   values.Stars,
	}
	if payload.UserID != nil {
		metadata["user_id"] = *payload.UserID
	}
	if s.audit != nil {
		if _, err := s.audit.Record(ctx, AuditEntry{
			ActorID:    actorID,
			Action:     models.AuditActionRecompute,
			EntityType: AuditEntityNode,
			EntityID:   nodeID,
			Metadata:   metadata,
		}); err != nil {
			s.logger.Warn().Err(err).Uint("node_id", nodeID).Msg("failed to record audit entry")
		}
	}

	if payload.UserID != nil {
		return s.User(ctx, *payload.UserID, nodeID)
	}
	return dto.ScoreResponse{NodeID: nodeID, Points: values.Points, Score: values.Score, Stars: values.Stars}, nil
}

func (s *scoreService) SpendStars(ctx context.Context, userID, nodeID uint, payload dto.SpendStarsRequest) (dto.ScoreResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ScoreResponse{}, err
	}
	row, err := s.store.Scores.SpendStars(ctx, userID, nodeID, payload.Amount)
	if err != nil {
		return dto.ScoreResponse{}, err
	}
	return dto.NewUserScoreResponse(row), nil
}
