package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/mandiflow/produce-backend/pkg/enums"
)

// Product is a produce listing orders reference by id.
type Product struct {
	ID        uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name      string            `gorm:"column:name;not null"`
	Unit      enums.ProductUnit `gorm:"column:unit;type:text;not null"`
	IsActive  bool              `gorm:"column:is_active;not null;default:true"`
	CreatedAt time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
