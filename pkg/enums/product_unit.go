package enums

import "fmt"

// ProductUnit is the unit a product is quoted and sold in.
type ProductUnit string

const (
	ProductUnitKg      ProductUnit = "kg"
	ProductUnitCrate   ProductUnit = "crate"
	ProductUnitDozen   ProductUnit = "dozen"
	ProductUnitBox     ProductUnit = "box"
	ProductUnitQuintal ProductUnit = "quintal"
)

var validProductUnits = []ProductUnit{
	ProductUnitKg,
	ProductUnitCrate,
	ProductUnitDozen,
	ProductUnitBox,
	ProductUnitQuintal,
}

// String implements fmt.Stringer.
func (u ProductUnit) String() string {
	return string(u)
}

// IsValid reports whether the value is a known ProductUnit.
func (u ProductUnit) IsValid() bool {
	for _, candidate := range validProductUnits {
		if candidate == u {
			return true
		}
	}
	return false
}

// ParseProductUnit converts raw input into a ProductUnit.
func ParseProductUnit(value string) (ProductUnit, error) {
	for _, candidate := range validProductUnits {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid product unit %q", value)
}
