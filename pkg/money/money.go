package money

import "github.com/shopspring/decimal"

// Round2 rounds a monetary amount to 2 decimal places, half away from zero.
// All amounts in the system are non-negative, so this is round-half-up.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// LineAmount computes quantity * rate rounded to 2 decimal places.
func LineAmount(quantity, rate decimal.Decimal) decimal.Decimal {
	return Round2(quantity.Mul(rate))
}

// Cents converts an amount to integer cents for exact comparisons.
func Cents(d decimal.Decimal) int64 {
	return Round2(d).Mul(decimal.NewFromInt(100)).IntPart()
}

// Equal reports whether two amounts are identical at 2 decimal places.
func Equal(a, b decimal.Decimal) bool {
	return Cents(a) == Cents(b)
}
