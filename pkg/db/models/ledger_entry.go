package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mandiflow/produce-backend/pkg/enums"
)

// LedgerEntry records an immutable signed credit movement for a customer.
// Entries are append-only; the cached customer balance must only change
// through paths that also write one of these.
type LedgerEntry struct {
	ID         uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID uuid.UUID             `gorm:"column:customer_id;type:uuid;not null;index"`
	OrderID    uuid.UUID             `gorm:"column:order_id;type:uuid;not null;index"`
	Type       enums.LedgerEntryType `gorm:"column:type;type:text;not null"`
	Amount     decimal.Decimal       `gorm:"column:amount;type:numeric(14,2);not null"`
	Actor      string                `gorm:"column:actor;not null"`
	Metadata   json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt  time.Time             `gorm:"column:created_at;autoCreateTime"`
}
