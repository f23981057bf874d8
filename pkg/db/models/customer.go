package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mandiflow/produce-backend/pkg/enums"
	"github.com/mandiflow/produce-backend/pkg/types"
)

// Customer is a wholesale buyer with a pricing model and a running credit
// balance equal to their total unpaid obligation across active orders.
type Customer struct {
	ID             uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name           string                 `gorm:"column:name;not null"`
	IsActive       bool                   `gorm:"column:is_active;not null;default:true"`
	PricingModel   enums.PricingModel     `gorm:"column:pricing_model;type:text;not null;default:'market'"`
	MarkupPercent  decimal.Decimal        `gorm:"column:markup_percent;type:numeric(6,2);not null;default:0"`
	ContractPrices types.ContractPriceMap `gorm:"column:contract_prices;type:jsonb;serializer:json"`
	CurrentCredit  decimal.Decimal        `gorm:"column:current_credit;type:numeric(14,2);not null;default:0"`
	CreatedAt      time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
