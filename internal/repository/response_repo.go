package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-grader/internal/models"
)

// ResponseRepository persists the per user and activity aggregation roots.
type ResponseRepository interface {
	GetOrCreate(ctx context.Context, userID, activityID uint) (models.Response, error)
	GetByID(ctx context.Context, id uint) (models.Response, error)
	GetForUpdate(ctx context.Context, id uint) (models.Response, error)
	Find(ctx context.Context, userID, activityID uint) (models.Response, error)
	ListByActivity(ctx context.Context, activityID uint, userIDs []uint) ([]models.Response, error)
	Save(ctx context.Context, response *models.Response) error
}

// NewResponseRepository constructs a response repository.
func NewResponseRepository(db *gorm.DB) ResponseRepository {
	return &responseRepository{db: db}
}

type responseRepository struct {
	db *gorm.DB
}

// GetOrCreate relies on the unique (user_id, activity_id) index so
// concurrent first submissions end up sharing one row.
func (r *responseRepository) GetOrCreate(ctx context.Context, userID, activityID uint) (models.Response, error) {
	fresh := models.Response{
		UserID:     userID,
		ActivityID: activityID,
		Status:     models.ResponseStatusOpened,
	}
	err := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "activity_id"}},
			DoNothing: true,
		}).
		Create(&fresh).Error
	if err != nil {
		return models.Response{}, err
	}
	return r.Find(ctx, userID, activityID)
}

func (r *responseRepository) GetByID(ctx context.Context, id uint) (models.Response, error) {
	var response models.Response
	if err := r.db.WithContext(ctx).First(&response, id).Error; err != nil {
		return models.Response{}, err
	}
	return response, nil
}

// GetForUpdate loads the response and locks its row until the surrounding
// transaction ends.
func (r *responseRepository) GetForUpdate(ctx context.Context, id uint) (models.Response, error) {
	var response models.Response
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&response, id).Error
	if err != nil {
		return models.Response{}, err
	}
	return response, nil
}

func (r *responseRepository) Find(ctx context.Context, userID, activityID uint) (models.Response, error) {
	var response models.Response
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND activity_id = ?", userID, activityID).
		First(&response).Error
	if err != nil {
		return models.Response{}, err
	}
	return response, nil
}

func (r *responseRepository) ListByActivity(ctx context.Context, activityID uint, userIDs []uint) ([]models.Response, error) {
	query := r.db.WithContext(ctx).Where("activity_id = ?", activityID)
	if len(userIDs) > 0 {
		query = query.Where("user_id IN ?", userIDs)
	}
	var responses []models.Response
	err := query.Order("user_id ASC").Find(&responses).Error
	return responses, err
}

func (r *responseRepository) Save(ctx context.Context, response *models.Response) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(response).Error
}
