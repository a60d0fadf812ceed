package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
)

// Audited entity types.
const (
	AuditEntitySubmission = "submission"
	AuditEntityNode       = "content_node"
	AuditEntityAnswerKey  = "answer_key"
)

// AuditEntry captures the details required to persist an audit entry.
type AuditEntry struct {
	ActorID    uint
	Action     string
	EntityType string
	EntityID   uint
	Metadata   map[string]interface{}
}

// AuditRecorder records grading decisions.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry) (dto.AuditLogResponse, error)
}

// AuditService records and lists grading decisions.
type AuditService interface {
	AuditRecorder
	List(ctx context.Context, entityType string, entityID uint) ([]dto.AuditLogResponse, error)
}

type auditService struct {
	repo   repository.AuditLogRepository
	logger zerolog.Logger
}

// NewAuditService constructs the audit service.
func NewAuditService(repo repository.AuditLogRepository, logger zerolog.Logger) AuditService {
	return &auditService{
		repo:   repo,
		logger: logger.With().Str("component", "audit_service").Logger(),
	}
}

func (s *auditService) Record(ctx context.Context, entry AuditEntry) (dto.AuditLogResponse, error) {
	if strings.TrimSpace(entry.Action) == "" {
		return dto.AuditLogResponse{}, fmt.Errorf("action is required")
	}
	if strings.TrimSpace(entry.EntityType) == "" {
		return dto.AuditLogResponse{}, fmt.Errorf("entity type is required")
	}

	model := models.AuditLog{
		ActorID:    entry.ActorID,
		Action:     strings.ToLower(strings.TrimSpace(entry.Action)),
		EntityType: strings.ToLower(strings.TrimSpace(entry.EntityType)),
		EntityID:   entry.EntityID,
		Metadata:   sanitizeMetadata(entry.Metadata),
	}

	if err := s.repo.Create(ctx, &model); err != nil {
		s.logger.Error().Err(err).Str("action", model.Action).Msg("failed to persist audit log")
		return dto.AuditLogResponse{}, err
	}

	return dto.NewAuditLogResponse(model), nil
}

func (s *auditService) List(ctx context.Context, entityType string, entityID uint) ([]dto.AuditLogResponse, error) {
	entries, err := s.repo.ListByEntity(ctx, strings.ToLower(strings.TrimSpace(entityType)), entityID)
	if err != nil {
		return nil, err
	}
	return dto.NewAuditLogResponseSlice(entries), nil
}

// sanitizeMetadata masks secrets and drops submitted source code, which can
// be large and is already stored on the submission.
func sanitizeMetadata(metadata map[string]interface{}) datatypes.JSONMap {
	if metadata == nil {
		return datatypes.JSONMap{}
	}

	sanitized := datatypes.JSONMap{}
	for key, value := range metadata {
		lower := strings.ToLower(key)
		switch {
		case strings.Contains(lower, "email"), strings.Contains(lower, "token"):
			sanitized[key] = "***"
		case lower == "source":
			continue
		default:
			sanitized[key] = value
		}
	}
	return sanitized
}
