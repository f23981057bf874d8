package types

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ContractPriceMap stores the locked per-product rates of a contract customer.
// Persisted as jsonb; a rate present in the map is immutable via order paths.
type ContractPriceMap map[uuid.UUID]decimal.Decimal

// Rate returns the locked rate for the product, if one exists.
func (m ContractPriceMap) Rate(productID uuid.UUID) (decimal.Decimal, bool) {
	if m == nil {
		return decimal.Decimal{}, false
	}
	rate, ok := m[productID]
	return rate, ok
}

// MergeNew adds rates for products that do not yet have one and reports which
// were added. Existing rates are never overwritten.
func (m ContractPriceMap) MergeNew(incoming ContractPriceMap) ContractPriceMap {
	if len(incoming) == 0 {
		return m
	}
	merged := ContractPriceMap{}
	for k, v := range m {
		merged[k] = v
	}
	for k, v := range incoming {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return merged
}
