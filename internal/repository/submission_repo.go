package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-grader/internal/models"
)

// SubmissionRepository persists submission attempts.
type SubmissionRepository interface {
	SaveSubmission(ctx context.Context, submission *models.Submission) error
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	FindByResponseHash(ctx context.Context, responseID uint, hash string) ([]models.Submission, error)
	ListByResponse(ctx context.Context, responseID uint) ([]models.Submission, error)
	ListByActivity(ctx context.Context, activityID uint, userIDs []uint) ([]models.Submission, error)
}

// NewSubmissionRepository constructs a submission repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

type submissionRepository struct {
	db *gorm.DB
}

func (r *submissionRepository) SaveSubmission(ctx context.Context, submission *models.Submission) error {
	db := r.db.WithContext(ctx).Omit(clause.Associations)
	if submission.ID == 0 {
		return db.Create(submission).Error
	}
	return db.Save(submission).Error
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

// FindByResponseHash returns candidates for recycling, oldest first.
func (r *submissionRepository) FindByResponseHash(ctx context.Context, responseID uint, hash string) ([]models.Submission, error) {
	var submissions []models.Submission
	err := r.db.WithContext(ctx).
		Where("response_id = ? AND hash = ?", responseID, hash).
		Order("created_at ASC, id ASC").
		Find(&submissions).Error
	return submissions, err
}

func (r *submissionRepository) ListByResponse(ctx context.Context, responseID uint) ([]models.Submission, error) {
	var submissions []models.Submission
	err := r.db.WithContext(ctx).
		Where("response_id = ?", responseID).
		Order("created_at ASC, id ASC").
		Find(&submissions).Error
	return submissions, err
}

// ListByActivity returns every submission to the activity, optionally
// restricted to a cohort of users, with the owning response preloaded.
func (r *submissionRepository) ListByActivity(ctx context.Context, activityID uint, userIDs []uint) ([]models.Submission, error) {
	query := r.db.WithContext(ctx).
		Select("submissions.*").
		Joins("JOIN responses ON responses.id = submissions.response_id").
		Where("responses.activity_id = ?", activityID)
	if len(userIDs) > 0 {
		query = query.Where("responses.user_id IN ?", userIDs)
	}

	var submissions []models.Submission
	err := query.
		Preload("Response").
		Order("submissions.created_at ASC, submissions.id ASC").
		Find(&submissions).Error
	return submissions, err
}
