package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-grader/internal/models"
)

// AnswerKeyRepository persists reference solutions.
type AnswerKeyRepository interface {
	Get(ctx context.Context, activityID uint, language string) (models.AnswerKey, error)
	ListByActivity(ctx context.Context, activityID uint) ([]models.AnswerKey, error)
	Save(ctx context.Context, key *models.AnswerKey) error
}

// NewAnswerKeyRepository constructs an answer key repository.
func NewAnswerKeyRepository(db *gorm.DB) AnswerKeyRepository {
	return &answerKeyRepository{db: db}
}

type answerKeyRepository struct {
	db *gorm.DB
}

func (r *answerKeyRepository) Get(ctx context.Context, activityID uint, language string) (models.AnswerKey, error) {
	var key models.AnswerKey
	err := r.db.WithContext(ctx).
		Where("activity_id = ? AND language = ?", activityID, language).
		First(&key).Error
	if err != nil {
		return models.AnswerKey{}, err
	}
	return key, nil
}

func (r *answerKeyRepository) ListByActivity(ctx context.Context, activityID uint) ([]models.AnswerKey, error) {
	var keys []models.AnswerKey
	err := r.db.WithContext(ctx).
		Where("activity_id = ?", activityID).
		Order("language ASC").
		Find(&keys).Error
	return keys, err
}

// Save inserts the key or overwrites the key stored for the same activity
// and language.
func (r *answerKeyRepository) Save(ctx context.Context, key *models.AnswerKey) error {
	if key.ID != 0 {
		return r.db.WithContext(ctx).Save(key).Error
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "activity_id"}, {Name: "language"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"source", "iospec", "iospec_size", "iospec_hash", "source_hash",
			"is_valid", "updated_at",
		}),
	}).Create(key).Error
	if err != nil {
		return err
	}
	stored, err := r.Get(ctx, key.ActivityID, key.Language)
	if err != nil {
		return err
	}
	key.ID = stored.ID
	return nil
}
