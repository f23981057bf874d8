package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MarketRate is one published rate for a product; the latest effective row is
// the current market rate.
type MarketRate struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProductID   uuid.UUID       `gorm:"column:product_id;type:uuid;not null;index"`
	Rate        decimal.Decimal `gorm:"column:rate;type:numeric(14,2);not null"`
	EffectiveAt time.Time       `gorm:"column:effective_at;not null;index"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}
