package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store bundles the repositories bound to one database handle.
type Store struct {
	db          *gorm.DB
	Nodes       ContentNodeRepository
	Activities  ActivityRepository
	AnswerKeys  AnswerKeyRepository
	Responses   ResponseRepository
	Submissions SubmissionRepository
	Scores      *ScoreStore
	Audit       AuditLogRepository
}

// NewStore builds every repository over db.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:          db,
		Nodes:       NewContentNodeRepository(db),
		Activities:  NewActivityRepository(db),
		AnswerKeys:  NewAnswerKeyRepository(db),
		Responses:   NewResponseRepository(db),
		Submissions: NewSubmissionRepository(db),
		Scores:      NewScoreStore(db),
		Audit:       NewAuditLogRepository(db),
	}
}

// Transaction runs fn with repositories bound to a single transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}
