package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-grader/internal/models"
)

// ContentNodeRepository exposes the course tree.
type ContentNodeRepository interface {
	Create(ctx context.Context, node *models.ContentNode) error
	GetByID(ctx context.Context, id uint) (models.ContentNode, error)
	GetBySlug(ctx context.Context, slug string) (models.ContentNode, error)
	UpsertBySlug(ctx context.Context, node *models.ContentNode) error
	Parent(ctx context.Context, id uint) (uint, bool, error)
	Children(ctx context.Context, id uint) ([]uint, error)
}

// NewContentNodeRepository constructs a content node repository.
func NewContentNodeRepository(db *gorm.DB) ContentNodeRepository {
	return &contentNodeRepository{db: db}
}

type contentNodeRepository struct {
	db *gorm.DB
}

func (r *contentNodeRepository) Create(ctx context.Context, node *models.ContentNode) error {
	return r.db.WithContext(ctx).Create(node).Error
}

func (r *contentNodeRepository) GetByID(ctx context.Context, id uint) (models.ContentNode, error) {
	var node models.ContentNode
	if err := r.db.WithContext(ctx).First(&node, id).Error; err != nil {
		return models.ContentNode{}, err
	}
	return node, nil
}

func (r *contentNodeRepository) GetBySlug(ctx context.Context, slug string) (models.ContentNode, error) {
	var node models.ContentNode
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&node).Error; err != nil {
		return models.ContentNode{}, err
	}
	return node, nil
}

// UpsertBySlug creates the node or refreshes the title, kind and parent of
// the node already holding the slug. The node ID is filled in either way.
func (r *contentNodeRepository) UpsertBySlug(ctx context.Context, node *models.ContentNode) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slug"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "kind", "parent_id", "updated_at"}),
	}).Create(node).Error
	if err != nil {
		return err
	}
	stored, err := r.GetBySlug(ctx, node.Slug)
	if err != nil {
		return err
	}
	node.ID = stored.ID
	return nil
}

func (r *contentNodeRepository) Parent(ctx context.Context, id uint) (uint, bool, error) {
	var node models.ContentNode
	err := r.db.WithContext(ctx).Select("id", "parent_id").First(&node, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if node.ParentID == nil {
		return 0, false, nil
	}
	return *node.ParentID, true, nil
}

func (r *contentNodeRepository) Children(ctx context.Context, id uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.ContentNode{}).
		Where("parent_id = ?", id).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}
