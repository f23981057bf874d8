package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditLog is a best-effort record of a domain action. Writes never block or
// fail the operation that produced them.
type AuditLog struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Actor     string          `gorm:"column:actor;not null"`
	Action    string          `gorm:"column:action;not null"`
	Entity    string          `gorm:"column:entity;not null"`
	EntityID  uuid.UUID       `gorm:"column:entity_id;type:uuid;not null"`
	Detail    json.RawMessage `gorm:"column:detail;type:jsonb"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}
