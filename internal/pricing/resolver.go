package pricing

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mandiflow/produce-backend/pkg/db/models"
	"github.com/mandiflow/produce-backend/pkg/enums"
	"github.com/mandiflow/produce-backend/pkg/money"
)

// Resolution is the outcome of resolving one line's unit rate.
type Resolution struct {
	Rate decimal.Decimal
	// IsContractRate marks the rate as originating from a locked contract
	// price (stored or newly established).
	IsContractRate bool
	// PersistAsContract tells the caller to write the rate back into the
	// customer's contract map. Never set when a stored rate already exists.
	PersistAsContract bool
	// UsedFallback marks a contract customer line that fell back to the
	// market rate because no contract price existed and none was supplied.
	UsedFallback bool
}

// Resolve picks the unit rate to charge for one product line.
//
// marketRate is nil when the product has no published rate; requestedRate is
// nil when the caller supplied none. Rates round half-up to 2 decimals.
func Resolve(customer *models.Customer, productID uuid.UUID, marketRate, requestedRate *decimal.Decimal) Resolution {
	switch customer.PricingModel {
	case enums.PricingModelContract:
		return resolveContract(customer, productID, marketRate, requestedRate)
	case enums.PricingModelMarkup:
		if requestedRate != nil {
			return Resolution{Rate: money.Round2(*requestedRate)}
		}
		if marketRate == nil {
			return Resolution{Rate: decimal.Zero}
		}
		multiplier := decimal.NewFromInt(1).Add(customer.MarkupPercent.Div(decimal.NewFromInt(100)))
		return Resolution{Rate: money.Round2(marketRate.Mul(multiplier))}
	default: // market
		if requestedRate != nil {
			return Resolution{Rate: money.Round2(*requestedRate)}
		}
		if marketRate == nil {
			return Resolution{Rate: decimal.Zero}
		}
		return Resolution{Rate: money.Round2(*marketRate)}
	}
}

func resolveContract(customer *models.Customer, productID uuid.UUID, marketRate, requestedRate *decimal.Decimal) Resolution {
	if stored, ok := customer.ContractPrices.Rate(productID); ok {
		// A stored contract rate wins unconditionally; a supplied rate is
		// ignored rather than rejected.
		return Resolution{Rate: money.Round2(stored), IsContractRate: true}
	}
	if requestedRate != nil {
		return Resolution{
			Rate:              money.Round2(*requestedRate),
			IsContractRate:    true,
			PersistAsContract: true,
		}
	}
	if marketRate == nil {
		return Resolution{Rate: decimal.Zero, UsedFallback: true}
	}
	return Resolution{Rate: money.Round2(*marketRate), UsedFallback: true}
}
