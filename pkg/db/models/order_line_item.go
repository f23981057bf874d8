package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mandiflow/produce-backend/pkg/enums"
)

// OrderLineItem captures the snapshot of each line within an order.
// Amount is always quantity * rate rounded to 2 decimal places.
type OrderLineItem struct {
	ID             uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID      uuid.UUID         `gorm:"column:product_id;type:uuid;not null"`
	Name           string            `gorm:"column:name;not null"`
	Unit           enums.ProductUnit `gorm:"column:unit;type:text;not null"`
	Quantity       decimal.Decimal   `gorm:"column:quantity;type:numeric(12,3);not null"`
	Rate           decimal.Decimal   `gorm:"column:rate;type:numeric(14,2);not null"`
	Amount         decimal.Decimal   `gorm:"column:amount;type:numeric(14,2);not null"`
	IsContractRate bool              `gorm:"column:is_contract_rate;not null;default:false"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
