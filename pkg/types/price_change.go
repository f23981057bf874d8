package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceChange is one entry of an order's price audit trail.
type PriceChange struct {
	ProductID uuid.UUID       `json:"product_id"`
	OldRate   decimal.Decimal `json:"old_rate"`
	NewRate   decimal.Decimal `json:"new_rate"`
	Actor     string          `json:"actor"`
	ChangedAt time.Time       `json:"changed_at"`
}

// PriceChangeTrail is a bounded, oldest-first list of price changes.
type PriceChangeTrail []PriceChange

// Append adds a change and evicts the oldest entries beyond limit.
func (t PriceChangeTrail) Append(change PriceChange, limit int) PriceChangeTrail {
	trail := append(t, change)
	if limit > 0 && len(trail) > limit {
		trail = trail[len(trail)-limit:]
	}
	return trail
}
