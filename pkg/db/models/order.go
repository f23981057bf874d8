package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mandiflow/produce-backend/pkg/enums"
	"github.com/mandiflow/produce-backend/pkg/types"
)

// Order is a wholesale produce order. It is never physically deleted;
// cancellation is a terminal status. A non-nil ReconciledAt permanently locks
// the order against price edits.
type Order struct {
	ID              uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber     string                 `gorm:"column:order_number;not null;uniqueIndex:idx_orders_order_number"`
	CustomerID      uuid.UUID              `gorm:"column:customer_id;type:uuid;not null;index"`
	Status          enums.OrderStatus      `gorm:"column:status;type:text;not null;default:'pending'"`
	PaymentStatus   enums.PaymentStatus    `gorm:"column:payment_status;type:text;not null;default:'unpaid'"`
	TotalAmount     decimal.Decimal        `gorm:"column:total_amount;type:numeric(14,2);not null"`
	PaidAmount      decimal.Decimal        `gorm:"column:paid_amount;type:numeric(14,2);not null;default:0"`
	IdempotencyKey  *string                `gorm:"column:idempotency_key;uniqueIndex:idx_orders_idempotency_key"`
	BatchID         *uuid.UUID             `gorm:"column:batch_id;type:uuid"`
	PricingFallback bool                   `gorm:"column:pricing_fallback;not null;default:false"`
	PriceChanges    types.PriceChangeTrail `gorm:"column:price_changes;type:jsonb;serializer:json"`
	CancelledAt     *time.Time             `gorm:"column:cancelled_at"`
	CancelledBy     *string                `gorm:"column:cancelled_by"`
	DeliveredAt     *time.Time             `gorm:"column:delivered_at"`
	ReconciledAt    *time.Time             `gorm:"column:reconciled_at"`
	Items           []OrderLineItem        `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

// IsReconciled reports whether the order is locked against financial edits.
func (o *Order) IsReconciled() bool {
	return o.ReconciledAt != nil
}
