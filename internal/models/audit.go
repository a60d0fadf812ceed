package models

import (
	"time"

	"gorm.io/datatypes"
)

// Audit actions recorded for grading decisions.
const (
	AuditActionManualGrade = "manual_grade"
	AuditActionRegrade     = "regrade"
	AuditActionRecompute   = "recompute"
)

// AuditLog captures grading decisions taken by instructors and operators.
type AuditLog struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	ActorID    uint              `gorm:"not null;default:0" json:"actor_id"`
	Action     string            `gorm:"size:64;not null" json:"action"`
	EntityType string            `gorm:"size:64;not null" json:"entity_type"`
	EntityID   uint              `gorm:"not null" json:"entity_id"`
	Metadata   datatypes.JSONMap `json:"metadata"`
	CreatedAt  time.Time         `json:"created_at"`
}
