package enums

import "fmt"

// PricingModel determines how a customer's line rates are resolved.
type PricingModel string

const (
	PricingModelMarket   PricingModel = "market"
	PricingModelMarkup   PricingModel = "markup"
	PricingModelContract PricingModel = "contract"
)

var validPricingModels = []PricingModel{
	PricingModelMarket,
	PricingModelMarkup,
	PricingModelContract,
}

// String implements fmt.Stringer.
func (m PricingModel) String() string {
	return string(m)
}

// IsValid reports whether the value is a known PricingModel.
func (m PricingModel) IsValid() bool {
	for _, candidate := range validPricingModels {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParsePricingModel converts raw input into a PricingModel.
func ParsePricingModel(value string) (PricingModel, error) {
	for _, candidate := range validPricingModels {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid pricing model %q", value)
}
