package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/iospec"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/scoring"
)

// ErrNodeNotFound indicates the content node cannot be located.
var ErrNodeNotFound = errors.New("content node not found")

// ActivityService defines activities and keeps the totals of the content
// tree in line with them.
type ActivityService interface {
	Define(ctx context.Context, payload dto.ActivityRequest) (dto.ActivityResponse, error)
	Get(ctx context.Context, id uint) (dto.ActivityResponse, error)
	Kinds() []string
}

type activityService struct {
	store      *repository.Store
	registry   *grading.Registry
	answerKeys AnswerKeyService
	validator  *validator.Validate
	logger     zerolog.Logger
}

// NewActivityService constructs the activity service. answerKeys may be nil,
// in which case answer keys are revalidated lazily at grading time.
func NewActivityService(store *repository.Store, registry *grading.Registry, answerKeys AnswerKeyService, validate *validator.Validate, logger zerolog.Logger) ActivityService {
	return &activityService{
		store:      store,
		registry:   registry,
		answerKeys: answerKeys,
		validator:  validate,
		logger:     logger.With().Str("component", "activity_service").Logger(),
	}
}

func (s *activityService) Kinds() []string {
	return s.registry.Names()
}

// Define creates the activity hosted by a node or updates it. Kinds without
// a registered grader are rejected. When points or stars change the
// difference is added to the node total and to every ancestor.
func (s *activityService) Define(ctx context.Context, payload dto.ActivityRequest) (dto.ActivityResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ActivityResponse{}, err
	}

	kind := strings.TrimSpace(payload.Kind)
	if _, err := s.registry.Lookup(kind); err != nil {
		return dto.ActivityResponse{}, err
	}
	difficulty, ok := models.ParseDifficulty(payload.Difficulty)
	if !ok {
		return dto.ActivityResponse{}, fmt.Errorf("unknown difficulty %q", payload.Difficulty)
	}
	if strings.TrimSpace(payload.IOSpec) != "" {
		if _, err := iospec.Parse(payload.IOSpec); err != nil {
			return dto.ActivityResponse{}, &ValidationError{Message: "invalid test specification: " + err.Error()}
		}
	}

	var (
		activity    models.Activity
		specChanged bool
	)
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		if _, err := tx.Nodes.GetByID(ctx, payload.NodeID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNodeNotFound
			}
			return err
		}

		existing, err := tx.Activities.GetByNodeID(ctx, payload.NodeID)
		switch {
		case err == nil:
			activity = existing
		case errors.Is(err, gorm.ErrRecordNotFound):
			activity = models.Activity{NodeID: payload.NodeID, IOSpecSize: 10}
		default:
			return err
		}

		previous := scoring.Values{Points: activity.Points, Score: activity.Score(), Stars: activity.Stars}
		specChanged = activity.ID != 0 && activity.IOSpecSource != payload.IOSpec
		activity.Title = strings.TrimSpace(payload.Title)
		activity.Kind = kind
		activity.Difficulty = difficulty
		activity.IOSpecSource = payload.IOSpec
		if payload.IOSpecSize > 0 {
			specChanged = specChanged || activity.IOSpecSize != payload.IOSpecSize
			activity.IOSpecSize = payload.IOSpecSize
		}
		activity.Points = difficulty.DefaultPoints()
		if payload.Points != nil {
			activity.Points = *payload.Points
		}
		activity.Stars = 0
		if payload.Stars != nil {
			activity.Stars = *payload.Stars
		}

		if activity.ID == 0 {
			err = tx.Activities.Create(ctx, &activity)
		} else {
			err = tx.Activities.Update(ctx, &activity)
		}
		if err != nil {
			return err
		}

		// the node row also carries its children, so only the change of the
		// activity itself is applied
		tree := scoring.NewTree(tx.Scores, s.logger)
		current := scoring.Values{Points: activity.Points, Score: activity.Score(), Stars: activity.Stars}
		return tree.SetDiff(ctx, scoring.TotalRef(activity.NodeID), current.Sub(previous), true)
	})
	if err != nil {
		return dto.ActivityResponse{}, err
	}

	if specChanged && s.answerKeys != nil {
		if _, err := s.answerKeys.ValidateActivity(ctx, activity.ID, false); err != nil {
			s.logger.Warn().Err(err).Uint("activity_id", activity.ID).Msg("answer keys no longer match the test specification")
		}
	}

	return dto.NewActivityResponse(activity), nil
}

func (s *activityService) Get(ctx context.Context, id uint) (dto.ActivityResponse, error) {
	activity, err := s.store.Activities.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.ActivityResponse{}, ErrActivityNotFound
	}
	if err != nil {
		return dto.ActivityResponse{}, err
	}
	return dto.NewActivityResponse(activity), nil
}
