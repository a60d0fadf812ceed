package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/scoring"
)

// ErrInsufficientStars is returned when a user spends more stars than earned.
var ErrInsufficientStars = errors.New("not enough stars available")

// ScoreStore persists both score flavours and implements scoring.Store.
type ScoreStore struct {
	db *gorm.DB
}

// NewScoreStore constructs a score store.
func NewScoreStore(db *gorm.DB) *ScoreStore {
	return &ScoreStore{db: db}
}

// Transaction implements scoring.Store. Nested calls become savepoints of
// the outer transaction.
func (s *ScoreStore) Transaction(ctx context.Context, fn func(tx scoring.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&scoreTx{db: tx})
	})
}

// GetTotal returns the aggregate row of a node.
func (s *ScoreStore) GetTotal(ctx context.Context, nodeID uint) (models.TotalScore, error) {
	var row models.TotalScore
	if err := s.db.WithContext(ctx).Where("node_id = ?", nodeID).First(&row).Error; err != nil {
		return models.TotalScore{}, err
	}
	return row, nil
}

// GetUserScore returns the row of a user under a node.
func (s *ScoreStore) GetUserScore(ctx context.Context, userID, nodeID uint) (models.UserScore, error) {
	var row models.UserScore
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND node_id = ?", userID, nodeID).
		First(&row).Error
	if err != nil {
		return models.UserScore{}, err
	}
	return row, nil
}

// ListUserScores returns every row of a user.
func (s *ScoreStore) ListUserScores(ctx context.Context, userID uint) ([]models.UserScore, error) {
	var rows []models.UserScore
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("node_id ASC").Find(&rows).Error
	return rows, err
}

// SpendStars moves stars of a user under a node to the used balance.
func (s *ScoreStore) SpendStars(ctx context.Context, userID, nodeID uint, amount float64) (models.UserScore, error) {
	if amount <= 0 {
		return models.UserScore{}, fmt.Errorf("star amount must be positive")
	}

	var row models.UserScore
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stx := &scoreTx{db: tx}
		if _, err := stx.LoadOrCreate(ctx, scoring.UserRef(userID, nodeID)); err != nil {
			return err
		}
		if err := tx.Where("user_id = ? AND node_id = ?", userID, nodeID).First(&row).Error; err != nil {
			return err
		}
		if row.AvailableStars() < amount {
			return ErrInsufficientStars
		}
		row.UsedStars += amount
		return tx.Model(&row).Update("used_stars", row.UsedStars).Error
	})
	if err != nil {
		return models.UserScore{}, err
	}
	return row, nil
}

type scoreTx struct {
	db *gorm.DB
}

func (t *scoreTx) LoadOrCreate(ctx context.Context, ref scoring.Ref) (scoring.Values, error) {
	db := t.db.WithContext(ctx)
	switch ref.Flavour {
	case scoring.FlavourUser:
		fresh := models.UserScore{UserID: ref.UserID, NodeID: ref.NodeID}
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "node_id"}},
			DoNothing: true,
		}).Create(&fresh).Error
		if err != nil {
			return scoring.Values{}, err
		}
		var row models.UserScore
		err = db.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND node_id = ?", ref.UserID, ref.NodeID).
			First(&row).Error
		if err != nil {
			return scoring.Values{}, err
		}
		return scoring.Values{Points: row.Points, Score: row.Score, Stars: row.Stars}, nil
	default:
		fresh := models.TotalScore{NodeID: ref.NodeID}
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "node_id"}},
			DoNothing: true,
		}).Create(&fresh).Error
		if err != nil {
			return scoring.Values{}, err
		}
		var row models.TotalScore
		err = db.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("node_id = ?", ref.NodeID).
			First(&row).Error
		if err != nil {
			return scoring.Values{}, err
		}
		return scoring.Values{Points: row.Points, Score: row.Score, Stars: row.Stars}, nil
	}
}

func (t *scoreTx) Save(ctx context.Context, ref scoring.Ref, values scoring.Values) error {
	updates := map[string]interface{}{
		"points": values.Points,
		"score":  values.Score,
		"stars":  values.Stars,
	}
	db := t.db.WithContext(ctx)
	if ref.Flavour == scoring.FlavourUser {
		return db.Model(&models.UserScore{}).
			Where("user_id = ? AND node_id = ?", ref.UserID, ref.NodeID).
			Updates(updates).Error
	}
	return db.Model(&models.TotalScore{}).
		Where("node_id = ?", ref.NodeID).
		Updates(updates).Error
}

func (t *scoreTx) Parent(ctx context.Context, nodeID uint) (uint, bool, error) {
	return NewContentNodeRepository(t.db).Parent(ctx, nodeID)
}

func (t *scoreTx) Children(ctx context.Context, nodeID uint) ([]uint, error) {
	return NewContentNodeRepository(t.db).Children(ctx, nodeID)
}

// Contribution is what the node itself adds to its subtree: the activity it
// hosts for totals, or the user's response to that activity.
func (t *scoreTx) Contribution(ctx context.Context, ref scoring.Ref) (scoring.Values, error) {
	db := t.db.WithContext(ctx)
	if ref.Flavour == scoring.FlavourUser {
		var response models.Response
		err := db.Select("responses.*").
			Joins("JOIN activities ON activities.id = responses.activity_id").
			Where("activities.node_id = ? AND responses.user_id = ?", ref.NodeID, ref.UserID).
			First(&response).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return scoring.Values{}, nil
		}
		if err != nil {
			return scoring.Values{}, err
		}
		return scoring.Values{Points: response.Points, Score: response.Score, Stars: response.Stars}, nil
	}

	var activity models.Activity
	err := db.Where("node_id = ?", ref.NodeID).First(&activity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return scoring.Values{}, nil
	}
	if err != nil {
		return scoring.Values{}, err
	}
	return scoring.Values{Points: activity.Points, Score: activity.Score(), Stars: activity.Stars}, nil
}
